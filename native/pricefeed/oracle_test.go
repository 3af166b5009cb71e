package pricefeed

import (
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func addr(suffix byte) common.Address {
	var a common.Address
	a[common.AddressLength-1] = suffix
	return a
}

func wadRate(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), wad)
}

func TestManualOracleRoundTrip(t *testing.T) {
	oracle := NewManualOracle()
	asset := addr(0x01)
	now := time.Unix(1_700_000_000, 0)
	oracle.Set(asset, wadRate(2), now)
	quote, err := oracle.GetQuote(asset)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Rate.Cmp(wadRate(2)) != 0 {
		t.Fatalf("rate mismatch: %s", quote.Rate)
	}
	if !quote.Timestamp.Equal(now) {
		t.Fatalf("timestamp mismatch: %s", quote.Timestamp)
	}
	if quote.Source != "manual" {
		t.Fatalf("source mismatch: %q", quote.Source)
	}
	if _, err := oracle.GetQuote(addr(0x02)); err == nil {
		t.Fatalf("expected missing quote error")
	}
}

func TestManualOracleSetDecimal(t *testing.T) {
	oracle := NewManualOracle()
	asset := addr(0x01)
	now := time.Unix(1_700_000_000, 0)
	if err := oracle.SetDecimal(asset, "1.5", now); err != nil {
		t.Fatalf("set decimal: %v", err)
	}
	quote, err := oracle.GetQuote(asset)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	if quote.Rate.Cmp(want) != 0 {
		t.Fatalf("rate mismatch: %s", quote.Rate)
	}
	if err := oracle.SetDecimal(asset, "not-a-number", now); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := oracle.SetDecimal(asset, "-1", now); err == nil {
		t.Fatalf("expected positivity error")
	}
}

func TestAggregatorRespectsPriority(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	asset := addr(0x01)
	primary := NewManualOracle()
	secondary := NewManualOracle()
	primary.Set(asset, wadRate(3), now)
	secondary.Set(asset, wadRate(4), now)

	agg := NewAggregator([]string{"primary", "secondary"}, time.Hour)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("primary", primary)
	agg.Register("secondary", secondary)

	quote, err := agg.GetQuote(asset)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Rate.Cmp(wadRate(3)) != 0 {
		t.Fatalf("expected primary rate, got %s", quote.Rate)
	}
}

func TestAggregatorFallsBackOnStaleQuote(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	asset := addr(0x01)
	primary := NewManualOracle()
	secondary := NewManualOracle()
	primary.Set(asset, wadRate(3), now.Add(-2*time.Hour))
	secondary.Set(asset, wadRate(4), now.Add(-time.Minute))

	agg := NewAggregator([]string{"primary", "secondary"}, time.Hour)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("primary", primary)
	agg.Register("secondary", secondary)

	quote, err := agg.GetQuote(asset)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Rate.Cmp(wadRate(4)) != 0 {
		t.Fatalf("expected fallback rate, got %s", quote.Rate)
	}
}

func TestAggregatorNoFreshQuote(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	asset := addr(0x01)
	stale := NewManualOracle()
	stale.Set(asset, wadRate(3), now.Add(-2*time.Hour))

	agg := NewAggregator([]string{"stale"}, time.Hour)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("stale", stale)

	if _, err := agg.GetQuote(asset); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected ErrNoFreshQuote, got %v", err)
	}
}

func TestAggregatorPriceAdapter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	asset := addr(0x01)
	oracle := NewManualOracle()
	oracle.Set(asset, wadRate(2), now)

	agg := NewAggregator(nil, time.Hour)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("manual", oracle)

	rate, ts, err := agg.Price(asset)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if rate.Cmp(wadRate(2)) != 0 {
		t.Fatalf("rate mismatch: %s", rate)
	}
	if ts != now.Unix() {
		t.Fatalf("timestamp mismatch: %d", ts)
	}
}

func TestHTTPFeedFetchesQuote(t *testing.T) {
	asset := addr(0x01)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("asset"); got != "weth" {
			t.Errorf("unexpected asset id %q", got)
		}
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("unexpected api key %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rate":"2.25","timestamp":1700000000}`))
	}))
	defer server.Close()

	feed := NewHTTPFeed(server.Client(), "fixture", server.URL, "secret", map[common.Address]string{asset: "weth"})
	quote, err := feed.GetQuote(asset)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(225), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))
	if quote.Rate.Cmp(want) != 0 {
		t.Fatalf("rate mismatch: %s", quote.Rate)
	}
	if quote.Timestamp.Unix() != 1_700_000_000 {
		t.Fatalf("timestamp mismatch: %d", quote.Timestamp.Unix())
	}
	if quote.Source != "fixture" {
		t.Fatalf("source mismatch: %q", quote.Source)
	}
}

func TestHTTPFeedRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	feed := NewHTTPFeed(server.Client(), "fixture", server.URL, "", nil)
	if _, err := feed.GetQuote(addr(0x01)); err == nil {
		t.Fatalf("expected status error")
	}
}

type quoteRecorder struct {
	attempts  []string
	outcomes  []bool
	freshness map[string]time.Duration
}

func (r *quoteRecorder) RecordQuote(source string, err error) {
	r.attempts = append(r.attempts, source)
	r.outcomes = append(r.outcomes, err == nil)
}

func (r *quoteRecorder) RecordFreshness(asset string, age time.Duration) {
	if r.freshness == nil {
		r.freshness = make(map[string]time.Duration)
	}
	r.freshness[asset] = age
}

func TestAggregatorRecordsFeedConsultations(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	asset := addr(0x01)
	stale := NewManualOracle()
	stale.Set(asset, wadRate(3), now.Add(-2*time.Hour))
	fresh := NewManualOracle()
	fresh.Set(asset, wadRate(4), now.Add(-time.Minute))

	agg := NewAggregator([]string{"stale", "fresh"}, time.Hour)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("stale", stale)
	agg.Register("fresh", fresh)
	recorder := &quoteRecorder{}
	agg.SetMetrics(recorder)

	if _, err := agg.GetQuote(asset); err != nil {
		t.Fatalf("quote: %v", err)
	}

	if len(recorder.attempts) != 2 {
		t.Fatalf("expected two consultations, got %v", recorder.attempts)
	}
	if recorder.attempts[0] != "stale" || recorder.outcomes[0] {
		t.Fatalf("stale feed must be recorded as a failure: %v %v", recorder.attempts, recorder.outcomes)
	}
	if recorder.attempts[1] != "manual" || !recorder.outcomes[1] {
		t.Fatalf("serving feed must be recorded as a success: %v %v", recorder.attempts, recorder.outcomes)
	}
	age, ok := recorder.freshness[asset.Hex()]
	if !ok {
		t.Fatal("freshness must be recorded for the served asset")
	}
	if age != time.Minute {
		t.Fatalf("unexpected quote age: %s", age)
	}
}
