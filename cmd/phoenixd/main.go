package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"phoenixchain/config"
	"phoenixchain/core/events"
	"phoenixchain/core/types"
	"phoenixchain/native/lending"
	"phoenixchain/native/pricefeed"
	"phoenixchain/native/receipt"
	"phoenixchain/native/token"
	"phoenixchain/native/vault"
	"phoenixchain/observability"
	"phoenixchain/observability/logging"
	"phoenixchain/rpc"
	"phoenixchain/state"
	"phoenixchain/storage"
)

const (
	envName     = "PHOENIX_ENV"
	envLogLevel = "PHOENIX_LOG_LEVEL"
)

// seedFile lists dev fixtures applied at startup: collateral receipts to mint
// and vault balances to credit.
type seedFile struct {
	Receipts []struct {
		ID           uint64 `yaml:"id"`
		Owner        string `yaml:"owner"`
		LockedAmount string `yaml:"lockedAmount"`
	} `yaml:"receipts"`
	Balances []struct {
		Asset  string `yaml:"asset"`
		Holder string `yaml:"holder"`
		Amount string `yaml:"amount"`
	} `yaml:"balances"`
}

// logEmitter forwards engine events to the structured logger.
type logEmitter struct {
	log *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if inner := carrier.Event(); inner != nil {
			for key, value := range inner.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	l.log.Info("event "+evt.EventType(), attrs...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	listenFlag := flag.String("listen", "", "Listen address override")
	seedFlag := flag.String("seed", "", "DEV ONLY: path to a YAML seed file applied at startup")
	flag.Parse()

	logger := logging.Setup("phoenixd", os.Getenv(envName), logging.ParseLevel(os.Getenv(envLogLevel)))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if addr := strings.TrimSpace(*listenFlag); addr != "" {
		cfg.ListenAddress = addr
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	params, err := cfg.Params()
	if err != nil {
		logger.Error("invalid lending parameters", slog.Any("error", err))
		os.Exit(1)
	}

	registry := receipt.NewRegistry(cfg.Admin())
	registry.SetState(state.NewReceiptStore(db))

	funds := vault.NewVault(cfg.Admin(), cfg.Reserve())
	funds.SetState(state.NewBalanceStore(db))
	funds.SetMetrics(observability.Lending())

	book := token.NewBook()
	for _, asset := range cfg.Assets {
		if err := book.Register(common.HexToAddress(asset.Address), asset.Symbol, asset.Decimals); err != nil {
			logger.Error("failed to register asset", slog.String("symbol", asset.Symbol), slog.Any("error", err))
			os.Exit(1)
		}
	}

	aggregator, err := buildOracle(cfg, logger)
	if err != nil {
		logger.Error("failed to configure price feeds", slog.Any("error", err))
		os.Exit(1)
	}
	aggregator.SetMetrics(observability.Oracle())

	engine := lending.NewEngine(cfg.Stable(), params)
	engine.SetState(state.NewLoanStore(db))
	engine.SetRegistry(registry)
	engine.SetVault(funds)
	engine.SetOracle(aggregator)
	engine.SetTokenBook(book)
	engine.SetCollateralOwner(receipt.NewCollateralSync(registry))
	engine.SetAdmin(cfg.Admin())
	engine.SetEmitter(logEmitter{log: logger})
	engine.SetMetrics(observability.Lending())

	if path := strings.TrimSpace(*seedFlag); path != "" {
		if err := applySeed(path, cfg, registry, funds); err != nil {
			logger.Error("failed to apply seed file", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("applied seed file", slog.String("path", path))
	}

	server := rpc.NewServer(engine, cfg.AuthToken(), logger)
	server.SetRegistry(registry)
	server.SetVault(funds)
	server.SetTokenBook(book)
	server.SetMetrics(observability.ModuleMetrics())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddress)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func buildOracle(cfg *config.Config, logger *slog.Logger) (*pricefeed.Aggregator, error) {
	aggregator := pricefeed.NewAggregator(cfg.Oracle.Priority, cfg.MaxQuoteAge())

	if len(cfg.Oracle.ManualPrices) > 0 {
		manual := pricefeed.NewManualOracle()
		now := time.Now()
		for _, price := range cfg.Oracle.ManualPrices {
			if err := manual.SetDecimal(common.HexToAddress(price.Asset), price.Rate, now); err != nil {
				return nil, err
			}
		}
		aggregator.Register("manual", manual)
	}

	idMap := make(map[common.Address]string, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		if strings.TrimSpace(asset.FeedID) != "" {
			idMap[common.HexToAddress(asset.Address)] = asset.FeedID
		}
	}
	for _, feed := range cfg.Oracle.Feeds {
		apiKey := ""
		if env := strings.TrimSpace(feed.APIKeyEnv); env != "" {
			apiKey = strings.TrimSpace(os.Getenv(env))
		}
		aggregator.Register(feed.Name, pricefeed.NewHTTPFeed(nil, feed.Name, feed.Endpoint, apiKey, idMap))
		logger.Info("registered price feed", slog.String("name", feed.Name), slog.String("endpoint", feed.Endpoint))
	}
	return aggregator, nil
}

func applySeed(path string, cfg *config.Config, registry *receipt.Registry, funds *vault.Vault) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode seed file: %w", err)
	}
	admin := cfg.Admin()
	for _, rec := range seed.Receipts {
		if !common.IsHexAddress(rec.Owner) {
			return fmt.Errorf("seed receipt %d has invalid owner %q", rec.ID, rec.Owner)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(rec.LockedAmount), 10)
		if !ok {
			return fmt.Errorf("seed receipt %d has invalid amount %q", rec.ID, rec.LockedAmount)
		}
		if err := registry.Mint(admin, rec.ID, common.HexToAddress(rec.Owner), amount); err != nil {
			return fmt.Errorf("mint seed receipt %d: %w", rec.ID, err)
		}
	}
	for _, bal := range seed.Balances {
		if !common.IsHexAddress(bal.Asset) || !common.IsHexAddress(bal.Holder) {
			return fmt.Errorf("seed balance has invalid address pair %q/%q", bal.Asset, bal.Holder)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(bal.Amount), 10)
		if !ok {
			return fmt.Errorf("seed balance has invalid amount %q", bal.Amount)
		}
		if err := funds.Fund(admin, common.HexToAddress(bal.Asset), common.HexToAddress(bal.Holder), amount); err != nil {
			return fmt.Errorf("fund seed balance: %w", err)
		}
	}
	return nil
}
