// Package models provides the pluggable pieces of the simulator: order
// latency models and queue-position models. All of them are pure functions of
// their arguments and the state threaded through the order itself; none keeps
// hidden mutable state between calls.
package models

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"

	"hftsim/pkg/types"
)

// LatencyModel maps (timestamp, order) to the one-way delays on the order
// buses. Entry is the submit→exchange-receive delay, Response the
// exchange-send→local-receive delay. Both are nanoseconds and never negative,
// so delivery timestamps never move backwards.
type LatencyModel interface {
	Entry(timestamp int64, order *types.Order) int64
	Response(timestamp int64, order *types.Order) int64
}

// ConstantLatency applies a fixed delay per direction.
type ConstantLatency struct {
	EntryLatency    int64
	ResponseLatency int64
}

func (l ConstantLatency) Entry(int64, *types.Order) int64 { return clampDelay(l.EntryLatency) }

func (l ConstantLatency) Response(int64, *types.Order) int64 { return clampDelay(l.ResponseLatency) }

// LatencySample is one recorded order round trip: request sent at ReqTS,
// observed at the exchange at ExchTS, response received at RespTS.
type LatencySample struct {
	ReqTS  int64
	ExchTS int64
	RespTS int64
}

// IntpLatency interpolates delays from a recorded series of round trips.
// Lookups binary-search the surrounding samples by request timestamp and
// linearly interpolate between them; timestamps outside the series clamp to
// the nearest sample.
type IntpLatency struct {
	samples []LatencySample
}

// NewIntpLatency builds an interpolating model. The sample series must be
// non-empty; it is sorted by request timestamp if not already.
func NewIntpLatency(samples []LatencySample) (*IntpLatency, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("latency model: empty sample series")
	}
	sorted := make([]LatencySample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ReqTS < sorted[j].ReqTS })
	return &IntpLatency{samples: sorted}, nil
}

func (l *IntpLatency) Entry(timestamp int64, _ *types.Order) int64 {
	return l.interp(timestamp, func(s LatencySample) int64 { return s.ExchTS - s.ReqTS })
}

func (l *IntpLatency) Response(timestamp int64, _ *types.Order) int64 {
	return l.interp(timestamp, func(s LatencySample) int64 { return s.RespTS - s.ExchTS })
}

func (l *IntpLatency) interp(timestamp int64, lat func(LatencySample) int64) int64 {
	n := len(l.samples)
	i := sort.Search(n, func(i int) bool { return l.samples[i].ReqTS >= timestamp })
	switch {
	case i == 0:
		return clampDelay(lat(l.samples[0]))
	case i == n:
		return clampDelay(lat(l.samples[n-1]))
	}
	lo, hi := l.samples[i-1], l.samples[i]
	if hi.ReqTS == lo.ReqTS {
		return clampDelay(lat(lo))
	}
	frac := float64(timestamp-lo.ReqTS) / float64(hi.ReqTS-lo.ReqTS)
	v := float64(lat(lo)) + frac*float64(lat(hi)-lat(lo))
	return clampDelay(int64(v))
}

func clampDelay(d int64) int64 {
	if d < 0 {
		return 0
	}
	return d
}

// LoadLatencyCSV reads a latency sample series from a CSV file with rows of
// req_ts,exch_ts,resp_ts in nanoseconds. A non-numeric first row is treated
// as a header and skipped.
func LoadLatencyCSV(path string) ([]LatencySample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open latency file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read latency file: %w", err)
	}

	samples := make([]LatencySample, 0, len(records))
	for i, rec := range records {
		if len(rec) != 3 {
			return nil, fmt.Errorf("latency file row %d: want 3 columns, got %d", i+1, len(rec))
		}
		req, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("latency file row %d: %w", i+1, err)
		}
		exch, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("latency file row %d: %w", i+1, err)
		}
		resp, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("latency file row %d: %w", i+1, err)
		}
		samples = append(samples, LatencySample{ReqTS: req, ExchTS: exch, RespTS: resp})
	}
	return samples, nil
}
