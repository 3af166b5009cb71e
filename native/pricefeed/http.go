package pricefeed

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed fetches asset prices from an external quote endpoint. The feed
// expects a JSON body of the form {"rate":"<decimal>","timestamp":<unix>} and
// maps on-chain asset addresses to the upstream feed identifiers.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	name     string
	idMap    map[common.Address]string
}

// NewHTTPFeed constructs an HTTP feed adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewHTTPFeed(client HTTPDoer, name, endpoint, apiKey string, idMap map[common.Address]string) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[common.Address]string, len(idMap))
	for addr, id := range idMap {
		mapped[addr] = strings.TrimSpace(id)
	}
	return &HTTPFeed{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		name:     strings.ToLower(strings.TrimSpace(name)),
		idMap:    mapped,
	}
}

func (f *HTTPFeed) assetID(asset common.Address) string {
	if id, ok := f.idMap[asset]; ok && id != "" {
		return id
	}
	return strings.ToLower(asset.Hex())
}

// GetQuote requests the asset's current price from the upstream endpoint.
func (f *HTTPFeed) GetQuote(asset common.Address) (Quote, error) {
	if f == nil || f.endpoint == "" {
		return Quote{}, fmt.Errorf("pricefeed: http feed not configured")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("asset", f.assetID(asset))
	req.URL.RawQuery = values.Encode()
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("pricefeed: %s status %d: %s", f.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Rate      string `json:"rate"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("pricefeed: %s decode: %w", f.name, err)
	}
	rate, err := parseDecimalRate(payload.Rate)
	if err != nil {
		return Quote{}, fmt.Errorf("pricefeed: %s: %w", f.name, err)
	}
	return Quote{Rate: rate, Timestamp: time.Unix(payload.Timestamp, 0), Source: f.name}, nil
}

var _ Oracle = (*HTTPFeed)(nil)
var _ Oracle = (*ManualOracle)(nil)
