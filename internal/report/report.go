// Package report records the equity curve of a trading session and reduces
// it to summary statistics. Output files are written atomically (write to
// .tmp, then rename) so a crash mid-save never leaves a torn report.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"hftsim/pkg/types"
)

const nsPerYear = 365.25 * 24 * 3600 * 1e9

// Sample is one equity observation.
type Sample struct {
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
	Position  float64 `json:"position"`
}

// Recorder accumulates equity samples over a run.
type Recorder struct {
	samples []Sample
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Record appends one observation. Calls must use non-decreasing timestamps.
func (r *Recorder) Record(timestamp int64, equity, position float64) {
	r.samples = append(r.samples, Sample{Timestamp: timestamp, Equity: equity, Position: position})
}

// Samples returns the recorded curve.
func (r *Recorder) Samples() []Sample { return r.samples }

// Summary are the reduced statistics of a run. Sharpe is annualized from the
// sample spacing; MaxDrawdown is reported as a positive equity drop.
type Summary struct {
	Samples     int     `json:"samples"`
	Start       int64   `json:"start"`
	End         int64   `json:"end"`
	FinalEquity float64 `json:"final_equity"`
	NetReturn   float64 `json:"net_return"`
	Volatility  float64 `json:"volatility"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`

	State types.StateValues `json:"state"`
}

// Summarize reduces the recorded curve, attaching the final account state.
func (r *Recorder) Summarize(state types.StateValues) Summary {
	s := Summary{Samples: len(r.samples), State: state}
	if len(r.samples) == 0 {
		return s
	}
	first, last := r.samples[0], r.samples[len(r.samples)-1]
	s.Start = first.Timestamp
	s.End = last.Timestamp
	s.FinalEquity = last.Equity
	s.NetReturn = last.Equity - first.Equity

	// Per-sample equity increments.
	if len(r.samples) > 1 {
		diffs := make([]float64, len(r.samples)-1)
		for i := 1; i < len(r.samples); i++ {
			diffs[i-1] = r.samples[i].Equity - r.samples[i-1].Equity
		}
		mean, std := stat.MeanStdDev(diffs, nil)
		if math.IsNaN(std) {
			// A single increment has no sample deviation.
			std = 0
		}
		s.Volatility = std
		if std > 0 && last.Timestamp > first.Timestamp {
			perSampleNS := float64(last.Timestamp-first.Timestamp) / float64(len(diffs))
			s.Sharpe = mean / std * math.Sqrt(nsPerYear/perSampleNS)
		}
	}

	peak := first.Equity
	for _, sample := range r.samples {
		if sample.Equity > peak {
			peak = sample.Equity
		}
		if dd := peak - sample.Equity; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
	}
	return s
}

// WriteJSON atomically persists the summary together with the full curve.
func (r *Recorder) WriteJSON(path string, summary Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	out := struct {
		Summary Summary  `json:"summary"`
		Curve   []Sample `json:"curve"`
	}{Summary: summary, Curve: r.samples}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return os.Rename(tmp, path)
}
