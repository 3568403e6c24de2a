package depth

import (
	"github.com/google/btree"

	"hftsim/pkg/types"
)

type level struct {
	tick int
	qty  float64
}

// BTreeDepth keeps each side in an ordered tree so the best level is always
// at a tree edge and no tick-range scan is ever needed. It trades per-update
// allocation for O(log n) bests on books with very sparse, wide tick ranges
// where HashMapDepth's linear re-scans hurt.
type BTreeDepth struct {
	tickSize float64
	lotSize  float64

	bids *btree.BTreeG[level]
	asks *btree.BTreeG[level]

	timestamp int64
}

// NewBTreeDepth creates an empty ordered-tree book.
func NewBTreeDepth(tickSize, lotSize float64) *BTreeDepth {
	byTick := func(a, b level) bool { return a.tick < b.tick }
	return &BTreeDepth{
		tickSize: tickSize,
		lotSize:  lotSize,
		bids:     btree.NewG(2, byTick),
		asks:     btree.NewG(2, byTick),
	}
}

func (d *BTreeDepth) TickSize() float64 { return d.tickSize }

func (d *BTreeDepth) BestBidTick() int {
	if max, ok := d.bids.Max(); ok {
		return max.tick
	}
	return InvalidMinTick
}

func (d *BTreeDepth) BestAskTick() int {
	if min, ok := d.asks.Min(); ok {
		return min.tick
	}
	return InvalidMaxTick
}

func (d *BTreeDepth) BestBid() float64 {
	if t := d.BestBidTick(); t != InvalidMinTick {
		return float64(t) * d.tickSize
	}
	return 0
}

func (d *BTreeDepth) BestAsk() float64 {
	if t := d.BestAskTick(); t != InvalidMaxTick {
		return float64(t) * d.tickSize
	}
	return 0
}

func (d *BTreeDepth) BidQtyAt(tick int) float64 {
	if lv, ok := d.bids.Get(level{tick: tick}); ok {
		return lv.qty
	}
	return 0
}

func (d *BTreeDepth) AskQtyAt(tick int) float64 {
	if lv, ok := d.asks.Get(level{tick: tick}); ok {
		return lv.qty
	}
	return 0
}

func (d *BTreeDepth) UpdateBidDepth(price float64, qty float64, timestamp int64) Update {
	priceTick := tickOf(price, d.tickSize)
	prevBest := d.BestBidTick()
	var prevQty float64
	if lv, ok := d.bids.Get(level{tick: priceTick}); ok {
		prevQty = lv.qty
	}

	if qty < d.lotSize {
		d.bids.Delete(level{tick: priceTick})
		qty = 0
	} else {
		d.bids.ReplaceOrInsert(level{tick: priceTick, qty: qty})
		// Drop crossed ask levels left behind by the feed.
		for {
			min, ok := d.asks.Min()
			if !ok || min.tick > priceTick {
				break
			}
			d.asks.Delete(min)
		}
	}
	d.timestamp = timestamp
	return Update{
		PriceTick:    priceTick,
		PrevBestTick: prevBest,
		BestTick:     d.BestBidTick(),
		PrevQty:      prevQty,
		NewQty:       qty,
		Timestamp:    timestamp,
	}
}

func (d *BTreeDepth) UpdateAskDepth(price float64, qty float64, timestamp int64) Update {
	priceTick := tickOf(price, d.tickSize)
	prevBest := d.BestAskTick()
	var prevQty float64
	if lv, ok := d.asks.Get(level{tick: priceTick}); ok {
		prevQty = lv.qty
	}

	if qty < d.lotSize {
		d.asks.Delete(level{tick: priceTick})
		qty = 0
	} else {
		d.asks.ReplaceOrInsert(level{tick: priceTick, qty: qty})
		for {
			max, ok := d.bids.Max()
			if !ok || max.tick < priceTick {
				break
			}
			d.bids.Delete(max)
		}
	}
	d.timestamp = timestamp
	return Update{
		PriceTick:    priceTick,
		PrevBestTick: prevBest,
		BestTick:     d.BestAskTick(),
		PrevQty:      prevQty,
		NewQty:       qty,
		Timestamp:    timestamp,
	}
}

func (d *BTreeDepth) ClearDepth(side types.Side, price float64) {
	clearTick := tickOf(price, d.tickSize)
	if side == types.Buy {
		for {
			max, ok := d.bids.Max()
			if !ok || max.tick < clearTick {
				break
			}
			d.bids.Delete(max)
		}
	} else {
		for {
			min, ok := d.asks.Min()
			if !ok || min.tick > clearTick {
				break
			}
			d.asks.Delete(min)
		}
	}
}
