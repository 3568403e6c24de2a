// Package backtest implements the dual-processor simulator: the local
// (strategy-side) and exchange (matching-side) event processors, the
// latency-delayed order buses connecting them, the chunked event reader, the
// cash/position accounting, and the driver that interleaves the two clocks.
package backtest

import (
	"sort"

	"hftsim/pkg/types"
)

type busEntry struct {
	order *types.Order
	ts    int64
}

// OrderBus is a delivery queue between the processors. Entries are kept in
// non-decreasing delivery-timestamp order with stable ties, so a variable
// latency model cannot reorder same-instant deliveries.
type OrderBus struct {
	entries []busEntry
}

// NewOrderBus creates an empty bus.
func NewOrderBus() *OrderBus { return &OrderBus{} }

// Append inserts a delivery keeping timestamp order; ties go after existing
// entries with the same timestamp.
func (b *OrderBus) Append(order *types.Order, ts int64) {
	i := sort.Search(len(b.entries), func(i int) bool { return b.entries[i].ts > ts })
	b.entries = append(b.entries, busEntry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = busEntry{order: order, ts: ts}
}

// HeadTimestamp returns the earliest delivery timestamp, or TimestampMax if
// the bus is empty.
func (b *OrderBus) HeadTimestamp() int64 {
	if len(b.entries) == 0 {
		return types.TimestampMax
	}
	return b.entries[0].ts
}

// PopHead removes and returns the earliest delivery.
func (b *OrderBus) PopHead() (*types.Order, int64) {
	e := b.entries[0]
	copy(b.entries, b.entries[1:])
	b.entries[len(b.entries)-1] = busEntry{}
	b.entries = b.entries[:len(b.entries)-1]
	return e.order, e.ts
}

// Len returns the number of queued deliveries.
func (b *OrderBus) Len() int { return len(b.entries) }
