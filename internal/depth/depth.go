// Package depth maintains the order book as sparse price-level maps keyed by
// integer ticks, with best-bid/best-ask tracking.
//
// Two implementations are provided: HashMapDepth (flat maps plus best-tick
// scan bounds) and BTreeDepth (ordered trees, best levels at the tree edges).
// Both report the previous and new best ticks on every update; the exchange
// processor uses that delta to decide which resting orders a move swept
// through.
package depth

import "hftsim/pkg/types"

// Sentinel best ticks for empty book sides. Values fit well inside the int
// range so tick-span arithmetic against them cannot overflow.
const (
	InvalidMinTick = -(1 << 31)
	InvalidMaxTick = 1 << 31
)

// Update describes the outcome of a single depth update.
type Update struct {
	PriceTick    int
	PrevBestTick int
	BestTick     int
	PrevQty      float64
	NewQty       float64
	Timestamp    int64
}

// MarketDepth is the order book contract shared by the processors and the
// strategy layer.
type MarketDepth interface {
	// UpdateBidDepth sets the bid quantity at price and returns the update
	// delta, including the previous and new best bid ticks.
	UpdateBidDepth(price float64, qty float64, timestamp int64) Update
	// UpdateAskDepth is the ask-side counterpart.
	UpdateAskDepth(price float64, qty float64, timestamp int64) Update
	// ClearDepth drops all levels on the side from its best up to and
	// including price, then re-scans the best.
	ClearDepth(side types.Side, price float64)

	BestBidTick() int
	BestAskTick() int
	BestBid() float64
	BestAsk() float64
	BidQtyAt(tick int) float64
	AskQtyAt(tick int) float64
	TickSize() float64
}

func tickOf(price, tickSize float64) int {
	if price >= 0 {
		return int(price/tickSize + 0.5)
	}
	return int(price/tickSize - 0.5)
}
