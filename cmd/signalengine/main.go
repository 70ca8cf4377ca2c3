// Package main wires the signal engine's modules together: configuration,
// persistence, the event bus, one risk gate per risk profile, and one
// SignalMachine per (symbol, strategy, exchange, frame), then drives them
// through either the live or the backtest orchestrator depending on the
// -mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/solstice-quant/signalengine/internal/api"
	"github.com/solstice-quant/signalengine/internal/backtest"
	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/exchange"
	"github.com/solstice-quant/signalengine/internal/live"
	"github.com/solstice-quant/signalengine/internal/persistence"
	"github.com/solstice-quant/signalengine/internal/registry"
	"github.com/solstice-quant/signalengine/internal/risk"
	"github.com/solstice-quant/signalengine/internal/signalmachine"
	"github.com/solstice-quant/signalengine/internal/strategy"
	"github.com/solstice-quant/signalengine/internal/strategycontract"
)

func main() {
	mode := flag.String("mode", "live", "run mode: live or backtest")
	symbol := flag.String("symbol", "BTCUSDT", "trading symbol")
	strategyName := flag.String("strategy", "vwap_reversion", "registered strategy name")
	exchangeName := flag.String("exchange", "rest", "registered exchange name")
	exchangeURL := flag.String("exchange-url", "https://api.example.com", "base URL for the rest exchange adapter")
	riskProfile := flag.String("risk-profile", "default", "risk profile name, shared across machines that set it")
	maxPositions := flag.Int("max-positions", 5, "max total concurrent positions for -risk-profile")
	dataDir := flag.String("data", "./data", "persistence base directory")
	configFile := flag.String("config", "", "optional YAML config overlay")
	backtestFrom := flag.String("from", "", "backtest frame start, RFC3339")
	backtestTo := flag.String("to", "", "backtest frame end, RFC3339")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	httpAddr := flag.String("http-addr", ":8090", "address the status/WS server listens on")
	portfolioValue := flag.Float64("portfolio-value", 10000, "portfolio value the demo strategy's position sizer scales against")
	riskPerTrade := flag.Float64("risk-per-trade", 0.01, "fraction of portfolio-value the demo strategy's position sizer risks per trade")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(logger, events.DefaultConfig())
	store := persistence.NewManager(logger, *dataDir)

	exchanges := registry.NewExchanges()
	exchanges.Register("rest", func() exchange.Adapter {
		return exchange.NewGuarded(exchange.NewRESTAdapter(*exchangeURL, 10*time.Second), cfg, logger)
	})
	exch, err := exchanges.Create(*exchangeName)
	if err != nil {
		logger.Fatal("failed to build exchange adapter", zap.Error(err))
	}

	strategies := registry.NewStrategies()
	strategies.Register("vwap_reversion", func() strategycontract.Adapter {
		return strategy.NewVWAPReversion(exch, logger, decimal.NewFromFloat(*portfolioValue), decimal.NewFromFloat(*riskPerTrade))
	})
	strat, err := strategies.Create(*strategyName)
	if err != nil {
		logger.Fatal("failed to build strategy adapter", zap.Error(err))
	}

	gate := risk.New(*riskProfile, logger, bus, store,
		risk.MaxTotalPositions(*maxPositions),
		risk.NoDuplicateStrategyExchangeSymbol(),
	)

	runCtx := domain.Context{
		Symbol:   *symbol,
		Strategy: *strategyName,
		Exchange: *exchangeName,
		Frame:    *mode,
	}

	switch *mode {
	case "backtest":
		from, to, err := parseBacktestWindow(*backtestFrom, *backtestTo)
		if err != nil {
			logger.Fatal("invalid backtest window", zap.Error(err))
		}
		machine := signalmachine.New(runCtx, cfg, logger, bus, store, exch, strat, gate, true)
		frame := domain.NewFrame(domain.FrameSpec{Interval: time.Minute, StartDate: from, EndDate: to})
		orch := backtest.New(runCtx, cfg, logger, bus, exch, machine, frame)

		results := make([]backtest.Result, 0, frame.Len())
		cancelCh := make(chan struct{})
		for r := range orch.Run(ctx, cancelCh) {
			results = append(results, r)
			logger.Info("backtest signal resolved",
				zap.String("action", string(r.Tick.Action)), zap.Time("at", r.When))
		}
		summary := backtest.Summarize(results, minutesPerYear)
		logger.Info("backtest complete",
			zap.Int("trades", summary.Trades),
			zap.String("winRate", summary.WinRate.String()),
			zap.String("profitFactor", summary.ProfitFactor.String()),
			zap.String("sharpe", summary.SharpeRatio.String()),
			zap.String("maxDrawdown", summary.MaxDrawdown.String()),
			zap.String("totalPnLPct", summary.TotalPnLPct.String()),
		)

	case "live":
		machine := signalmachine.New(runCtx, cfg, logger, bus, store, exch, strat, gate, false)
		orch := live.New(runCtx, cfg, logger, bus, machine)

		srv := api.NewServer(logger, bus)
		go func() {
			if err := srv.ListenAndServe(*httpAddr); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		cancelCh := make(chan struct{})

		go func() {
			<-sigCh
			logger.Info("shutdown signal received")
			machine.Stop()
			close(cancelCh)
			cancel()
		}()

		for result := range orch.Run(ctx, cancelCh) {
			logger.Info("live signal event", zap.String("action", string(result.Action)))
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
		logger.Info("live orchestrator stopped")

	default:
		logger.Fatal("unknown -mode", zap.String("mode", *mode))
	}
}

const minutesPerYear = 60 * 24 * 365

func parseBacktestWindow(from, to string) (time.Time, time.Time, error) {
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-from and -to are required in backtest mode")
	}
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-from: %w", err)
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("-to: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("-to must be after -from")
	}
	return start, end, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
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

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
