// Package config defines all configuration for the simulator and the live
// trading binary. Config is loaded from a YAML file (default:
// configs/config.yaml) with sensitive fields overridable via HFT_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Asset    AssetConfig    `mapstructure:"asset"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Live     LiveConfig     `mapstructure:"live"`
	Report   ReportConfig   `mapstructure:"report"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AssetConfig describes the traded instrument.
//
//   - Type: linear, inverse, or quanto settlement.
//   - ContractSize: contract multiplier (quanto: per-point multiplier).
//   - TickSize / LotSize: price and quantity granularity.
//   - MakerFee / TakerFee: fee rates; negative values are rebates.
type AssetConfig struct {
	Symbol       string  `mapstructure:"symbol"`
	Type         string  `mapstructure:"type"`
	ContractSize float64 `mapstructure:"contract_size"`
	TickSize     float64 `mapstructure:"tick_size"`
	LotSize      float64 `mapstructure:"lot_size"`
	MakerFee     float64 `mapstructure:"maker_fee"`
	TakerFee     float64 `mapstructure:"taker_fee"`
}

// BacktestConfig selects the recorded data and the simulation models.
//
//   - DataFiles: event files replayed in order.
//   - LatencyFile: recorded order round trips for the interpolated latency
//     model; empty selects the constant model below.
//   - QueueModel: "prob_power", "prob_log", "prob_power3", or "risk_averse";
//     QueueParam is the function parameter (exponent or log coefficient).
//   - DepthImpl: "hashmap" or "btree".
//   - TradeBufferCap: bound on the strategy-visible trade history.
type BacktestConfig struct {
	DataFiles       []string      `mapstructure:"data_files"`
	LatencyFile     string        `mapstructure:"latency_file"`
	EntryLatency    time.Duration `mapstructure:"entry_latency"`
	ResponseLatency time.Duration `mapstructure:"response_latency"`
	QueueModel      string        `mapstructure:"queue_model"`
	QueueParam      float64       `mapstructure:"queue_param"`
	DepthImpl       string        `mapstructure:"depth_impl"`
	TradeBufferCap  int           `mapstructure:"trade_buffer_cap"`
}

// StrategyConfig tunes the grid-trading strategy.
//
//   - HalfSpread: distance from mid to the nearest quote.
//   - GridInterval: spacing between grid levels.
//   - GridNum: quotes per side.
//   - Skew: price shift per unit of inventory, pushing quotes to mean-revert
//     the position.
//   - OrderQty: quantity per quote.
//   - UpdateInterval: time between requote cycles.
type StrategyConfig struct {
	HalfSpread     float64       `mapstructure:"half_spread"`
	GridInterval   float64       `mapstructure:"grid_interval"`
	GridNum        int           `mapstructure:"grid_num"`
	Skew           float64       `mapstructure:"skew"`
	OrderQty       float64       `mapstructure:"order_qty"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
}

// LiveConfig holds the venue endpoints and credentials for live trading.
// OrderPrefix namespaces this process's client order ids so numeric core ids
// survive the round trip through the venue.
type LiveConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	StreamURL       string        `mapstructure:"stream_url"`
	APIKey          string        `mapstructure:"api_key"`
	Secret          string        `mapstructure:"secret"`
	OrderPrefix     string        `mapstructure:"order_prefix"`
	PricePrecision  int32         `mapstructure:"price_precision"`
	QtyPrecision    int32         `mapstructure:"qty_precision"`
	RecvWindow      time.Duration `mapstructure:"recv_window"`
	KeepAlivePeriod time.Duration `mapstructure:"keepalive_period"`
}

// ReportConfig controls result output.
type ReportConfig struct {
	OutputDir      string        `mapstructure:"output_dir"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the YAML config at path, applying HFT_* environment overrides
// (nested keys joined with underscores, e.g. HFT_LIVE_SECRET).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("asset.type", "linear")
	v.SetDefault("asset.contract_size", 1.0)
	v.SetDefault("asset.lot_size", 0.001)

	v.SetDefault("backtest.entry_latency", 25*time.Millisecond)
	v.SetDefault("backtest.response_latency", 25*time.Millisecond)
	v.SetDefault("backtest.queue_model", "prob_power")
	v.SetDefault("backtest.queue_param", 3.0)
	v.SetDefault("backtest.depth_impl", "hashmap")
	v.SetDefault("backtest.trade_buffer_cap", 1024)

	v.SetDefault("strategy.grid_num", 5)
	v.SetDefault("strategy.order_qty", 1.0)
	v.SetDefault("strategy.update_interval", 100*time.Millisecond)

	// Empty defaults register the credential keys so environment overrides
	// are picked up even when the YAML omits them.
	v.SetDefault("live.api_key", "")
	v.SetDefault("live.secret", "")
	v.SetDefault("live.order_prefix", "hftsim")
	v.SetDefault("live.recv_window", 5*time.Second)
	v.SetDefault("live.keepalive_period", 30*time.Minute)

	v.SetDefault("report.output_dir", "results")
	v.SetDefault("report.sample_interval", time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Asset.TickSize <= 0 {
		return fmt.Errorf("asset.tick_size must be positive")
	}
	switch c.Asset.Type {
	case "linear", "inverse", "quanto":
	default:
		return fmt.Errorf("asset.type %q: want linear, inverse, or quanto", c.Asset.Type)
	}
	switch c.Backtest.QueueModel {
	case "prob_power", "prob_log", "prob_power3", "risk_averse":
	default:
		return fmt.Errorf("backtest.queue_model %q unknown", c.Backtest.QueueModel)
	}
	switch c.Backtest.DepthImpl {
	case "hashmap", "btree":
	default:
		return fmt.Errorf("backtest.depth_impl %q: want hashmap or btree", c.Backtest.DepthImpl)
	}
	if c.Strategy.GridNum <= 0 {
		return fmt.Errorf("strategy.grid_num must be positive")
	}
	if c.Strategy.OrderQty <= 0 {
		return fmt.Errorf("strategy.order_qty must be positive")
	}
	return nil
}
