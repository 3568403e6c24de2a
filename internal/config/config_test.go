package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
asset:
  symbol: SOLUSDT
  tick_size: 0.001
  maker_fee: -0.00005
  taker_fee: 0.0007
backtest:
  data_files: [data/a.evt, data/b.evt]
strategy:
  half_spread: 0.05
  grid_interval: 0.05
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Asset.Type != "linear" {
		t.Errorf("Asset.Type = %q, want linear default", cfg.Asset.Type)
	}
	if cfg.Backtest.QueueModel != "prob_power" {
		t.Errorf("QueueModel = %q, want prob_power default", cfg.Backtest.QueueModel)
	}
	if cfg.Backtest.EntryLatency != 25*time.Millisecond {
		t.Errorf("EntryLatency = %v, want 25ms default", cfg.Backtest.EntryLatency)
	}
	if len(cfg.Backtest.DataFiles) != 2 {
		t.Errorf("DataFiles = %v, want 2 entries", cfg.Backtest.DataFiles)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HFT_LIVE_SECRET", "from-env")
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Live.Secret != "from-env" {
		t.Errorf("Live.Secret = %q, want env override", cfg.Live.Secret)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick size", func(c *Config) { c.Asset.TickSize = 0 }},
		{"bad asset type", func(c *Config) { c.Asset.Type = "perpetual" }},
		{"bad queue model", func(c *Config) { c.Backtest.QueueModel = "fifo" }},
		{"bad depth impl", func(c *Config) { c.Backtest.DepthImpl = "skiplist" }},
		{"zero grid", func(c *Config) { c.Strategy.GridNum = 0 }},
	}
	for _, tc := range cases {
		bad := *cfg
		tc.mutate(&bad)
		if err := bad.Validate(); err == nil {
			t.Errorf("%s: Validate accepted invalid config", tc.name)
		}
	}
}
