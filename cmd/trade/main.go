// Trade runner — drives the same grid-trading strategy against a live venue
// through the Trader contract the backtester also satisfies. Runs until
// SIGINT/SIGTERM, then cancels all working orders and writes the session
// report.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"hftsim/internal/backtest"
	"hftsim/internal/config"
	"hftsim/internal/depth"
	"hftsim/internal/live"
	"hftsim/internal/report"
	"hftsim/internal/strategy"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("HFT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Logging)

	asset, err := assetType(cfg.Asset)
	if err != nil {
		logger.Error("invalid asset", "error", err)
		os.Exit(1)
	}

	var md depth.MarketDepth
	if cfg.Backtest.DepthImpl == "btree" {
		md = depth.NewBTreeDepth(cfg.Asset.TickSize, cfg.Asset.LotSize)
	} else {
		md = depth.NewHashMapDepth(cfg.Asset.TickSize, cfg.Asset.LotSize)
	}
	state := backtest.NewState(cfg.Asset.MakerFee, cfg.Asset.TakerFee, asset)
	bot := live.NewBot(cfg.Asset, cfg.Live, md, state, cfg.Backtest.TradeBufferCap, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bot.Start(ctx); err != nil {
		logger.Error("failed to start bot", "error", err)
		os.Exit(1)
	}

	recorder := report.NewRecorder()
	grid := strategy.NewGrid(strategy.GridParams{
		HalfSpread:     cfg.Strategy.HalfSpread,
		GridInterval:   cfg.Strategy.GridInterval,
		GridNum:        cfg.Strategy.GridNum,
		Skew:           cfg.Strategy.Skew,
		OrderQty:       cfg.Strategy.OrderQty,
		UpdateInterval: cfg.Strategy.UpdateInterval.Nanoseconds(),
		Report: func(t strategy.Trader) {
			d := t.Depth()
			if d.BestBidTick() == depth.InvalidMinTick || d.BestAskTick() == depth.InvalidMaxTick {
				return
			}
			mid := (d.BestBid() + d.BestAsk()) / 2
			recorder.Record(t.CurrentTimestamp(), state.Equity(mid), t.Position())
		},
	}, logger)

	done := make(chan error, 1)
	go func() { done <- grid.Run(bot) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig)
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			logger.Error("strategy failed", "error", err)
		}
	}

	if err := bot.Close(); err != nil {
		logger.Error("close failed", "error", err)
	}

	summary := recorder.Summarize(bot.StateValues())
	out := filepath.Join(cfg.Report.OutputDir, fmt.Sprintf("live_%s.json", cfg.Asset.Symbol))
	if err := recorder.WriteJSON(out, summary); err != nil {
		logger.Error("failed to write report", "error", err)
	}
	logger.Info("session complete", "report", out, "trades", summary.State.TradeNum)
}

func assetType(cfg config.AssetConfig) (backtest.AssetType, error) {
	switch cfg.Type {
	case "linear":
		return backtest.LinearAsset{ContractSize: cfg.ContractSize}, nil
	case "inverse":
		return backtest.InverseAsset{ContractSize: cfg.ContractSize}, nil
	case "quanto":
		return backtest.QuantoAsset{Multiplier: cfg.ContractSize}, nil
	}
	return nil, fmt.Errorf("asset type %q unknown", cfg.Type)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
