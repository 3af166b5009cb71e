package pricefeed

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Quote captures a stable-denominated price for an asset along with the
// timestamp reported by the upstream feed and the feed identifier.
type Quote struct {
	Rate      *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Int).Set(q.Rate)
	}
	return clone
}

// Oracle resolves the stable-denominated price of an asset. Rates carry 18
// decimals of precision.
type Oracle interface {
	GetQuote(asset common.Address) (Quote, error)
}

// ErrNoFreshQuote indicates that the aggregator could not retrieve a quote
// within the configured freshness window.
var ErrNoFreshQuote = errors.New("pricefeed: no fresh quote available")

// Metrics receives the outcome of every feed consultation. Implementations
// must be safe for concurrent use.
type Metrics interface {
	RecordQuote(source string, err error)
	RecordFreshness(asset string, age time.Duration)
}

// Aggregator consults a list of registered feeds in priority order until a
// fresh quote is obtained.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]Oracle
	maxAge   time.Duration
	metrics  Metrics
	nowFn    func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority ordering
// and freshness window.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		feeds:    make(map[string]Oracle),
		maxAge:   maxAge,
		nowFn:    time.Now,
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetMetrics configures the instrumentation sink. Nil disables recording.
func (a *Aggregator) SetMetrics(metrics Metrics) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.metrics = metrics
	a.mu.Unlock()
}

// SetNowFunc overrides the aggregator clock, primarily for tests.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// Register adds or replaces a feed under the supplied identifier. Identifiers
// are stored in lowercase so lookups stay consistent regardless of the
// configuration casing.
func (a *Aggregator) Register(name string, feed Oracle) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetQuote fetches a quote from the configured feeds respecting the priority
// ordering. The freshness window is enforced here so downstream consumers can
// treat any returned quote as current.
func (a *Aggregator) GetQuote(asset common.Address) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("pricefeed: aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	metrics := a.metrics
	now := a.nowFn()
	a.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		feed := a.feeds[strings.ToLower(name)]
		a.mu.RUnlock()
		if feed == nil {
			continue
		}
		quote, err := feed.GetQuote(asset)
		if err != nil {
			lastErr = err
			recordQuote(metrics, name, err)
			continue
		}
		if quote.Rate == nil || quote.Rate.Sign() <= 0 {
			lastErr = fmt.Errorf("pricefeed: feed %s returned invalid rate", name)
			recordQuote(metrics, name, lastErr)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			recordQuote(metrics, name, lastErr)
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		recordQuote(metrics, result.Source, nil)
		if metrics != nil {
			metrics.RecordFreshness(asset.Hex(), now.Sub(result.Timestamp))
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

func recordQuote(metrics Metrics, source string, err error) {
	if metrics == nil {
		return
	}
	metrics.RecordQuote(source, err)
}

// Price adapts the aggregator to the lending engine's oracle surface. It
// returns the 18-decimal rate together with the quote's unix timestamp; the
// engine applies its own staleness check against loan-clock time.
func (a *Aggregator) Price(asset common.Address) (*big.Int, int64, error) {
	quote, err := a.GetQuote(asset)
	if err != nil {
		return nil, 0, err
	}
	return quote.Rate, quote.Timestamp.Unix(), nil
}

// ManualOracle provides an in-memory feed used for tests and manual overrides
// during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[common.Address]Quote
}

// NewManualOracle constructs an empty manual feed.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[common.Address]Quote)}
}

// Set stores the provided 18-decimal rate for the asset.
func (m *ManualOracle) Set(asset common.Address, rate *big.Int, ts time.Time) {
	if m == nil || rate == nil {
		return
	}
	m.mu.Lock()
	m.quotes[asset] = Quote{Rate: new(big.Int).Set(rate), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

// SetDecimal records the supplied decimal rate for the asset, scaled to 18
// decimals. Used when loading override prices from configuration.
func (m *ManualOracle) SetDecimal(asset common.Address, rate string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("pricefeed: manual oracle not configured")
	}
	scaled, err := parseDecimalRate(rate)
	if err != nil {
		return err
	}
	m.Set(asset, scaled, ts)
	return nil
}

// GetQuote retrieves the stored quote for the asset.
func (m *ManualOracle) GetQuote(asset common.Address) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("pricefeed: manual oracle not configured")
	}
	m.mu.RLock()
	stored, ok := m.quotes[asset]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("pricefeed: quote for %s not found", asset.Hex())
	}
	return stored.Clone(), nil
}

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// parseDecimalRate converts a positive decimal string into an 18-decimal
// integer rate, truncating any precision beyond 18 places.
func parseDecimalRate(rate string) (*big.Int, error) {
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return nil, fmt.Errorf("pricefeed: rate required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("pricefeed: invalid rate %q", rate)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("pricefeed: rate must be positive")
	}
	scaled := new(big.Int).Mul(rat.Num(), wad)
	return scaled.Quo(scaled, rat.Denom()), nil
}
