// Backtest runner — replays recorded market data against the grid-trading
// strategy through the dual-processor simulator.
//
// Architecture:
//
//	backtest/local.go    — strategy-side processor: depth view, order map, trade buffer
//	backtest/exchange.go — matching-side processor: resting orders, queue-position fills
//	backtest/backtest.go — two-clock driver and the Trader facade
//	models/              — latency and queue-position models
//	depth/               — order book implementations (hashmap, btree)
//	strategy/grid.go     — inventory-skewed grid quoting
//	report/              — equity curve and summary statistics
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"hftsim/internal/backtest"
	"hftsim/internal/config"
	"hftsim/internal/depth"
	"hftsim/internal/models"
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

	bt, err := buildBacktest(cfg)
	if err != nil {
		logger.Error("failed to build backtest", "error", err)
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
			recorder.Record(t.CurrentTimestamp(), bt.Equity(mid), t.Position())
		},
	}, logger)

	logger.Info("starting backtest",
		"symbol", cfg.Asset.Symbol,
		"files", len(cfg.Backtest.DataFiles),
		"queue_model", cfg.Backtest.QueueModel,
	)
	if err := grid.Run(bt); err != nil {
		logger.Error("backtest failed", "error", err)
		os.Exit(1)
	}
	if err := bt.Close(); err != nil {
		logger.Error("close failed", "error", err)
	}

	summary := recorder.Summarize(bt.StateValues())
	out := filepath.Join(cfg.Report.OutputDir, fmt.Sprintf("backtest_%s.json", cfg.Asset.Symbol))
	if err := recorder.WriteJSON(out, summary); err != nil {
		logger.Error("failed to write report", "error", err)
		os.Exit(1)
	}
	logger.Info("backtest complete",
		"report", out,
		"trades", summary.State.TradeNum,
		"net_return", summary.NetReturn,
		"sharpe", summary.Sharpe,
		"max_drawdown", summary.MaxDrawdown,
	)
}

func buildBacktest(cfg *config.Config) (*backtest.Backtest, error) {
	asset, err := assetType(cfg.Asset)
	if err != nil {
		return nil, err
	}
	latency, err := latencyModel(cfg.Backtest)
	if err != nil {
		return nil, err
	}
	queue, err := queueModel(cfg.Backtest)
	if err != nil {
		return nil, err
	}

	reader := backtest.NewReader(cfg.Backtest.DataFiles)
	toExch := backtest.NewOrderBus()
	toLocal := backtest.NewOrderBus()

	local := backtest.NewLocal(
		reader,
		newDepth(cfg),
		backtest.NewState(cfg.Asset.MakerFee, cfg.Asset.TakerFee, asset),
		latency,
		cfg.Backtest.TradeBufferCap,
		toExch, toLocal,
	)
	exch := backtest.NewExchange(
		reader.Clone(),
		newDepth(cfg),
		backtest.NewState(cfg.Asset.MakerFee, cfg.Asset.TakerFee, asset),
		latency,
		queue,
		toLocal, toExch,
	)
	return backtest.New(local, exch)
}

func newDepth(cfg *config.Config) depth.MarketDepth {
	if cfg.Backtest.DepthImpl == "btree" {
		return depth.NewBTreeDepth(cfg.Asset.TickSize, cfg.Asset.LotSize)
	}
	return depth.NewHashMapDepth(cfg.Asset.TickSize, cfg.Asset.LotSize)
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

func latencyModel(cfg config.BacktestConfig) (models.LatencyModel, error) {
	if cfg.LatencyFile == "" {
		return models.ConstantLatency{
			EntryLatency:    cfg.EntryLatency.Nanoseconds(),
			ResponseLatency: cfg.ResponseLatency.Nanoseconds(),
		}, nil
	}
	samples, err := models.LoadLatencyCSV(cfg.LatencyFile)
	if err != nil {
		return nil, err
	}
	return models.NewIntpLatency(samples)
}

func queueModel(cfg config.BacktestConfig) (models.QueueModel, error) {
	switch cfg.QueueModel {
	case "risk_averse":
		return models.RiskAverseQueue{}, nil
	case "prob_power":
		return models.NewProbQueue(models.PowerProb{N: cfg.QueueParam}), nil
	case "prob_log":
		return models.NewProbQueue(models.LogProb{C: cfg.QueueParam}), nil
	case "prob_power3":
		return models.NewProbQueue(models.PowerProb3{N: cfg.QueueParam}), nil
	}
	return nil, fmt.Errorf("queue model %q unknown", cfg.QueueModel)
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
