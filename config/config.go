package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"phoenixchain/native/lending"
)

// Config captures the runtime settings for phoenixd.
type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	DataDir         string `toml:"DataDir"`
	RPCAuthTokenEnv string `toml:"RPCAuthTokenEnv"`
	AdminAddress    string `toml:"AdminAddress"`
	ReserveAddress  string `toml:"ReserveAddress"`
	StableAsset     string `toml:"StableAsset"`

	Lending LendingConfig `toml:"Lending"`
	Oracle  OracleConfig  `toml:"Oracle"`
	Assets  []AssetConfig `toml:"Assets"`
}

// LendingConfig holds the risk parameters for the lending engine in basis
// points, plus the repayment grace period in seconds.
type LendingConfig struct {
	LiquidationRatioBps uint64               `toml:"LiquidationRatioBps"`
	TargetRatioBps      uint64               `toml:"TargetRatioBps"`
	LiquidationBonusBps uint64               `toml:"LiquidationBonusBps"`
	PenaltyRatioBps     uint64               `toml:"PenaltyRatioBps"`
	GracePeriodSeconds  int64                `toml:"GracePeriodSeconds"`
	DurationRates       []DurationRateConfig `toml:"DurationRates"`
}

// DurationRateConfig maps a supported loan duration to its interest rate.
type DurationRateConfig struct {
	DurationSeconds int64  `toml:"DurationSeconds"`
	RateBps         uint64 `toml:"RateBps"`
}

// OracleConfig describes the price feed stack.
type OracleConfig struct {
	MaxQuoteAgeSeconds int64              `toml:"MaxQuoteAgeSeconds"`
	Priority           []string           `toml:"Priority"`
	Feeds              []OracleFeedConfig `toml:"Feeds"`
	ManualPrices       []ManualPrice      `toml:"ManualPrices"`
}

// OracleFeedConfig describes an HTTP price feed endpoint.
type OracleFeedConfig struct {
	Name      string `toml:"Name"`
	Endpoint  string `toml:"Endpoint"`
	APIKeyEnv string `toml:"APIKeyEnv"`
}

// ManualPrice seeds the manual override feed at startup.
type ManualPrice struct {
	Asset string `toml:"Asset"`
	Rate  string `toml:"Rate"`
}

// AssetConfig lists a borrowable debt asset.
type AssetConfig struct {
	Address  string `toml:"Address"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	FeedID   string `toml:"FeedID"`
}

const (
	defaultListenAddress = "0.0.0.0:8545"
	defaultDataDir       = "./phoenix-data"
	defaultMaxQuoteAge   = 3600
)

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if c.Oracle.MaxQuoteAgeSeconds <= 0 {
		c.Oracle.MaxQuoteAgeSeconds = defaultMaxQuoteAge
	}
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("config: %s must be a hex address, got %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}

// Validate checks the structural integrity of the configuration. Parameter
// range checks beyond this live in lending.Params.Validate.
func (c *Config) Validate() error {
	if _, err := parseAddress("AdminAddress", c.AdminAddress); err != nil {
		return err
	}
	if _, err := parseAddress("ReserveAddress", c.ReserveAddress); err != nil {
		return err
	}
	if _, err := parseAddress("StableAsset", c.StableAsset); err != nil {
		return err
	}
	if len(c.Lending.DurationRates) == 0 {
		return fmt.Errorf("config: at least one duration rate is required")
	}
	seen := make(map[int64]bool)
	for _, dr := range c.Lending.DurationRates {
		if dr.DurationSeconds <= 0 {
			return fmt.Errorf("config: duration must be positive, got %d", dr.DurationSeconds)
		}
		if seen[dr.DurationSeconds] {
			return fmt.Errorf("config: duplicate duration %d", dr.DurationSeconds)
		}
		seen[dr.DurationSeconds] = true
	}
	for _, asset := range c.Assets {
		if _, err := parseAddress("Assets.Address", asset.Address); err != nil {
			return err
		}
		if strings.TrimSpace(asset.Symbol) == "" {
			return fmt.Errorf("config: asset %s missing symbol", asset.Address)
		}
		if asset.Decimals > 18 {
			return fmt.Errorf("config: asset %s has unsupported decimals %d", asset.Symbol, asset.Decimals)
		}
	}
	for _, price := range c.Oracle.ManualPrices {
		if _, err := parseAddress("Oracle.ManualPrices.Asset", price.Asset); err != nil {
			return err
		}
		if _, ok := new(big.Rat).SetString(strings.TrimSpace(price.Rate)); !ok {
			return fmt.Errorf("config: invalid manual price %q", price.Rate)
		}
	}
	for _, feed := range c.Oracle.Feeds {
		if strings.TrimSpace(feed.Name) == "" {
			return fmt.Errorf("config: oracle feed missing name")
		}
		if strings.TrimSpace(feed.Endpoint) == "" {
			return fmt.Errorf("config: oracle feed %s missing endpoint", feed.Name)
		}
	}
	return nil
}

// Admin returns the parsed admin address.
func (c *Config) Admin() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.AdminAddress))
}

// Reserve returns the parsed reserve address.
func (c *Config) Reserve() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.ReserveAddress))
}

// Stable returns the parsed stable asset address.
func (c *Config) Stable() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.StableAsset))
}

// MaxQuoteAge returns the oracle freshness window as a duration.
func (c *Config) MaxQuoteAge() time.Duration {
	return time.Duration(c.Oracle.MaxQuoteAgeSeconds) * time.Second
}

// AuthToken resolves the RPC bearer token from the configured environment
// variable. An empty result disables authenticated methods.
func (c *Config) AuthToken() string {
	env := strings.TrimSpace(c.RPCAuthTokenEnv)
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}

// Params converts the lending section into engine parameters, allowlisting
// every configured asset.
func (c *Config) Params() (lending.Params, error) {
	params := lending.Params{
		LiquidationRatioBps: c.Lending.LiquidationRatioBps,
		TargetRatioBps:      c.Lending.TargetRatioBps,
		LiquidationBonusBps: c.Lending.LiquidationBonusBps,
		PenaltyRatioBps:     c.Lending.PenaltyRatioBps,
		GracePeriod:         c.Lending.GracePeriodSeconds,
		DurationRates:       make(map[int64]uint64, len(c.Lending.DurationRates)),
		AllowedAssets:       make(map[common.Address]bool, len(c.Assets)),
	}
	for _, dr := range c.Lending.DurationRates {
		params.DurationRates[dr.DurationSeconds] = dr.RateBps
	}
	for _, asset := range c.Assets {
		addr, err := parseAddress("Assets.Address", asset.Address)
		if err != nil {
			return lending.Params{}, err
		}
		params.AllowedAssets[addr] = true
	}
	if err := params.Validate(); err != nil {
		return lending.Params{}, err
	}
	return params, nil
}
