// Package main is the engine entry point: it loads configuration,
// builds the strategy stack, and runs either a backtest over recorded
// ticks or a live session against a brokerage adapter, with the
// inspection API alongside.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantframe/streamalpha/internal/api"
	"github.com/quantframe/streamalpha/internal/backtester"
	"github.com/quantframe/streamalpha/internal/broker"
	"github.com/quantframe/streamalpha/internal/config"
	"github.com/quantframe/streamalpha/internal/data"
	"github.com/quantframe/streamalpha/internal/eventlog"
	"github.com/quantframe/streamalpha/internal/execution"
	"github.com/quantframe/streamalpha/internal/execution/adapters"
	"github.com/quantframe/streamalpha/internal/live"
	"github.com/quantframe/streamalpha/internal/meta"
	"github.com/quantframe/streamalpha/internal/risk"
	"github.com/quantframe/streamalpha/internal/strategy"
	"github.com/quantframe/streamalpha/pkg/types"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger := setupLogger(level)
	defer logger.Sync()

	logger.Info("starting streamalpha",
		zap.String("mode", cfg.Mode),
		zap.Strings("symbols", cfg.Symbols),
		zap.Bool("paper", cfg.Paper),
	)

	evaluator, err := buildStrategyStack(logger, cfg)
	if err != nil {
		logger.Fatal("strategy construction failed", zap.Error(err))
	}

	eventLog, closeLogs, err := openEventLogs(logger, cfg)
	if err != nil {
		logger.Fatal("event log setup failed", zap.Error(err))
	}
	defer closeLogs()

	dataStore, err := data.NewStore(logger, cfg.DataDir)
	if err != nil {
		logger.Fatal("data store setup failed", zap.Error(err))
	}

	validator := execution.NewValidator(logger, cfg.ValidationConfig())
	initialCash := decimal.NewFromFloat(cfg.InitialCash)
	riskMgr := risk.NewManager(logger, cfg.StopLossConfig(), initialCash)

	var apiServer *api.Server
	if cfg.Server.Enabled {
		apiServer = api.NewServer(logger, dataStore)
		apiServer.SetEventLogPaths(cfg.Driver.OrderEventLog, cfg.Driver.MetricsLog)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			if err := apiServer.Start(addr); err != nil {
				logger.Error("api server stopped", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch cfg.Mode {
	case "backtest":
		runBacktest(ctx, logger, cfg, evaluator, validator, riskMgr, eventLog, dataStore, apiServer)
	case "live":
		runLive(ctx, logger, cfg, evaluator, validator, riskMgr, eventLog)
	}

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api shutdown failed", zap.Error(err))
		}
	}
}

// buildStrategyStack creates the configured evaluators and, when more
// than one is configured (or the meta section is enabled), wraps them in
// the adaptive allocator.
func buildStrategyStack(logger *zap.Logger, cfg *config.Config) (strategy.Evaluator, error) {
	evaluators := make(map[string]strategy.Evaluator, len(cfg.Strategies))
	var single strategy.Evaluator
	for _, sc := range cfg.Strategies {
		ev, err := strategy.FromConfig(sc.Name, sc.EvaluatorConfig(), sc.Params)
		if err != nil {
			return nil, err
		}
		evaluators[sc.Name] = ev
		single = ev
	}

	if len(evaluators) == 1 && !cfg.Meta.Enabled {
		return single, nil
	}
	return meta.NewAllocator(logger, cfg.MetaAllocatorConfig(), evaluators), nil
}

// openEventLogs opens the order-event and portfolio-metrics log files
// for append, creating parent directories as needed. Empty paths
// disable logging.
func openEventLogs(logger *zap.Logger, cfg *config.Config) (*eventlog.Writer, func(), error) {
	if cfg.Driver.OrderEventLog == "" && cfg.Driver.MetricsLog == "" {
		return nil, func() {}, nil
	}

	open := func(path string) (*os.File, error) {
		if path == "" {
			return nil, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}

	orderFile, err := open(cfg.Driver.OrderEventLog)
	if err != nil {
		return nil, nil, err
	}
	metricsFile, err := open(cfg.Driver.MetricsLog)
	if err != nil {
		if orderFile != nil {
			orderFile.Close()
		}
		return nil, nil, err
	}

	closeFn := func() {
		if orderFile != nil {
			orderFile.Close()
		}
		if metricsFile != nil {
			metricsFile.Close()
		}
	}

	w := eventlog.NewWriter(logger, writerOrDiscard(orderFile), writerOrDiscard(metricsFile))
	return w, closeFn, nil
}

// writerOrDiscard substitutes io.Discard for a log destination that was
// not configured, so the writer never sees a nil io.Writer.
func writerOrDiscard(f *os.File) io.Writer {
	if f == nil {
		return io.Discard
	}
	return f
}

func runBacktest(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	evaluator strategy.Evaluator,
	validator *execution.Validator,
	riskMgr *risk.Manager,
	eventLog *eventlog.Writer,
	dataStore *data.Store,
	apiServer *api.Server,
) {
	var rng *rand.Rand
	if cfg.Driver.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Driver.Seed))
	}
	matching := execution.NewMatchingEngine(logger, cfg.MatchingEngineConfig(), rng)
	installCostModel(logger, cfg, matching)

	portfolio := backtester.NewPortfolio(decimal.NewFromFloat(cfg.InitialCash))

	driver := backtester.NewDriver(logger, backtester.DriverConfig{
		EquitySampleStride: cfg.Driver.EquitySampleStride,
		MaxTicks:           cfg.Driver.MaxTicks,
		FaultThreshold:     cfg.Driver.FaultThreshold,
		CloseOnFinish:      cfg.Driver.CloseOnFinish,
	}, evaluator, portfolio, validator, matching, riskMgr, eventLog)
	if apiServer != nil {
		driver.SetCollector(apiServer.Collector())
	}

	source, err := loadTickStream(ctx, dataStore, cfg.Symbols)
	if err != nil {
		logger.Fatal("tick data load failed", zap.Error(err))
	}

	// A signal during a backtest just cancels the loop at the next tick.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	result, err := driver.Run(runCtx, source)
	cancel()
	if err != nil {
		logger.Fatal("backtest failed", zap.Error(err))
	}

	logger.Info("backtest complete",
		zap.Int("ticks", result.TicksProcessed),
		zap.Int("trades", len(result.Trades)),
		zap.Int("rejected", result.OrdersRejected),
		zap.Int("cancelled", result.OrdersCancelled),
		zap.String("finalEquity", result.FinalEquity.String()),
		zap.String("totalReturnPct", result.Metrics.TotalReturnPct.String()),
		zap.String("maxDrawdownPct", result.Metrics.MaxDrawdownPct.String()),
		zap.String("sharpe", result.Metrics.SharpeRatio.String()),
		zap.Bool("breakerTripped", result.BreakerTripped),
	)
}

// installCostModel switches MARKET fills to the Almgren-Chriss model
// when configured, choosing the asset-class parameter set from the
// symbol universe.
func installCostModel(logger *zap.Logger, cfg *config.Config, matching *execution.MatchingEngine) {
	if !cfg.Matching.UseCostModel {
		return
	}
	modelCfg := execution.StockExecutionModelConfig()
	if len(cfg.Symbols) > 0 && broker.IsCrypto(cfg.Symbols[0]) {
		modelCfg = execution.CryptoExecutionModelConfig()
	}
	matching.SetCostModel(execution.NewExecutionModel(logger, modelCfg))
}

// loadTickStream loads every configured symbol's recorded ticks and
// merges them into a single time-ordered source.
func loadTickStream(ctx context.Context, store *data.Store, symbols []string) (backtester.TickSource, error) {
	var all []types.Tick
	for _, symbol := range symbols {
		ticks, err := store.LoadTicks(ctx, symbol, time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}
		for _, t := range ticks {
			all = append(all, *t)
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no tick data found for %v", symbols)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return data.NewSliceTickSource(all), nil
}

func runLive(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	evaluator strategy.Evaluator,
	validator *execution.Validator,
	riskMgr *risk.Manager,
	eventLog *eventlog.Writer,
) {
	var brk broker.Broker
	if cfg.Paper {
		logger.Info("live mode with paper broker")
		// The paper broker needs an external tick feed channel; a real
		// deployment points this at the market-data websocket service.
		ticks := make(chan types.Tick, 1024)
		feedCfg := data.DefaultMarketDataConfig()
		feedCfg.Symbols = cfg.Symbols
		feed := data.NewMarketDataService(logger, feedCfg)
		feed.OnTrade(func(update data.TradeUpdate) {
			select {
			case ticks <- types.Tick{
				Symbol:    update.Symbol,
				Timestamp: time.UnixMilli(update.Timestamp),
				Price:     update.Price,
				Size:      update.Quantity,
			}:
			default:
			}
		})
		if err := feed.Start(ctx); err != nil {
			logger.Fatal("market data service failed to start", zap.Error(err))
		}
		defer feed.Stop()
		for _, symbol := range cfg.Symbols {
			if err := feed.Subscribe(symbol); err != nil {
				logger.Fatal("subscribe failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}

		matching := execution.NewMatchingEngine(logger, cfg.MatchingEngineConfig(), nil)
		installCostModel(logger, cfg, matching)
		portfolio := backtester.NewPortfolio(decimal.NewFromFloat(cfg.InitialCash))
		brk = broker.NewPaperBroker(logger, matching, portfolio, ticks)
	} else if cfg.Broker.Venue == "binance" {
		brk = broker.NewExchangeBroker(logger, adapters.BinanceConfig{
			APIKey:    cfg.Broker.Key,
			APISecret: cfg.Broker.Secret,
			Testnet:   cfg.Broker.Testnet,
		})
	} else {
		brk = broker.NewRESTBroker(logger, broker.RESTConfig{
			BaseURL:   cfg.Broker.BaseURL,
			APIKey:    cfg.Broker.Key,
			APISecret: cfg.Broker.Secret,
		})
	}

	liveCfg := live.DefaultConfig(cfg.Symbols)
	liveCfg.CloseOnShutdown = cfg.Driver.CloseOnFinish
	if cfg.Driver.EquitySampleStride > 0 {
		liveCfg.EquitySampleStride = cfg.Driver.EquitySampleStride
	}
	if cfg.Driver.FaultThreshold > 0 {
		liveCfg.FaultThreshold = cfg.Driver.FaultThreshold
	}

	driver, err := live.NewDriver(logger, liveCfg, evaluator, brk, validator, riskMgr, eventLog)
	if err != nil {
		logger.Fatal("live driver construction failed", zap.Error(err))
	}
	if err := driver.Run(ctx); err != nil {
		logger.Error("live session ended with error", zap.Error(err))
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
