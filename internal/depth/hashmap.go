package depth

import "hftsim/pkg/types"

// HashMapDepth keeps each side as a flat tick→qty map. Best ticks are cached
// and re-scanned over the observed tick range when the best level empties.
type HashMapDepth struct {
	tickSize float64
	lotSize  float64

	bidDepth map[int]float64
	askDepth map[int]float64

	bestBidTick int
	bestAskTick int
	lowBidTick  int // lowest bid tick seen; bounds downward best re-scans
	highAskTick int // highest ask tick seen; bounds upward best re-scans

	timestamp int64
}

// NewHashMapDepth creates an empty book with the given tick and lot size.
func NewHashMapDepth(tickSize, lotSize float64) *HashMapDepth {
	return &HashMapDepth{
		tickSize:    tickSize,
		lotSize:     lotSize,
		bidDepth:    make(map[int]float64),
		askDepth:    make(map[int]float64),
		bestBidTick: InvalidMinTick,
		bestAskTick: InvalidMaxTick,
		lowBidTick:  InvalidMaxTick,
		highAskTick: InvalidMinTick,
	}
}

func (d *HashMapDepth) TickSize() float64 { return d.tickSize }
func (d *HashMapDepth) BestBidTick() int  { return d.bestBidTick }
func (d *HashMapDepth) BestAskTick() int  { return d.bestAskTick }

func (d *HashMapDepth) BestBid() float64 {
	if d.bestBidTick == InvalidMinTick {
		return 0
	}
	return float64(d.bestBidTick) * d.tickSize
}

func (d *HashMapDepth) BestAsk() float64 {
	if d.bestAskTick == InvalidMaxTick {
		return 0
	}
	return float64(d.bestAskTick) * d.tickSize
}

func (d *HashMapDepth) BidQtyAt(tick int) float64 { return d.bidDepth[tick] }
func (d *HashMapDepth) AskQtyAt(tick int) float64 { return d.askDepth[tick] }

func (d *HashMapDepth) UpdateBidDepth(price float64, qty float64, timestamp int64) Update {
	priceTick := tickOf(price, d.tickSize)
	prevBest := d.bestBidTick
	prevQty := d.bidDepth[priceTick]

	if qty < d.lotSize {
		delete(d.bidDepth, priceTick)
		qty = 0
		if priceTick == d.bestBidTick {
			d.bestBidTick = d.scanBidBest(priceTick - 1)
		}
	} else {
		d.bidDepth[priceTick] = qty
		if priceTick < d.lowBidTick {
			d.lowBidTick = priceTick
		}
		if priceTick > d.bestBidTick {
			d.bestBidTick = priceTick
			// A crossed feed drops stale ask levels the new bid walked over.
			if d.bestBidTick >= d.bestAskTick {
				for t := d.bestAskTick; t <= d.bestBidTick && t <= d.highAskTick; t++ {
					delete(d.askDepth, t)
				}
				d.bestAskTick = d.scanAskBest(d.bestBidTick + 1)
			}
		}
	}
	d.timestamp = timestamp
	return Update{
		PriceTick:    priceTick,
		PrevBestTick: prevBest,
		BestTick:     d.bestBidTick,
		PrevQty:      prevQty,
		NewQty:       qty,
		Timestamp:    timestamp,
	}
}

func (d *HashMapDepth) UpdateAskDepth(price float64, qty float64, timestamp int64) Update {
	priceTick := tickOf(price, d.tickSize)
	prevBest := d.bestAskTick
	prevQty := d.askDepth[priceTick]

	if qty < d.lotSize {
		delete(d.askDepth, priceTick)
		qty = 0
		if priceTick == d.bestAskTick {
			d.bestAskTick = d.scanAskBest(priceTick + 1)
		}
	} else {
		d.askDepth[priceTick] = qty
		if priceTick > d.highAskTick {
			d.highAskTick = priceTick
		}
		if priceTick < d.bestAskTick {
			d.bestAskTick = priceTick
			if d.bestAskTick <= d.bestBidTick {
				for t := d.bestBidTick; t >= d.bestAskTick && t >= d.lowBidTick; t-- {
					delete(d.bidDepth, t)
				}
				d.bestBidTick = d.scanBidBest(d.bestAskTick - 1)
			}
		}
	}
	d.timestamp = timestamp
	return Update{
		PriceTick:    priceTick,
		PrevBestTick: prevBest,
		BestTick:     d.bestAskTick,
		PrevQty:      prevQty,
		NewQty:       qty,
		Timestamp:    timestamp,
	}
}

func (d *HashMapDepth) ClearDepth(side types.Side, price float64) {
	clearTick := tickOf(price, d.tickSize)
	if side == types.Buy {
		if d.bestBidTick != InvalidMinTick {
			for t := clearTick; t <= d.bestBidTick; t++ {
				delete(d.bidDepth, t)
			}
		}
		d.bestBidTick = d.scanBidBest(clearTick - 1)
		if d.bestBidTick == InvalidMinTick {
			d.lowBidTick = InvalidMaxTick
		}
	} else {
		if d.bestAskTick != InvalidMaxTick {
			for t := d.bestAskTick; t <= clearTick; t++ {
				delete(d.askDepth, t)
			}
		}
		d.bestAskTick = d.scanAskBest(clearTick + 1)
		if d.bestAskTick == InvalidMaxTick {
			d.highAskTick = InvalidMinTick
		}
	}
}

// scanBidBest finds the highest occupied bid tick at or below from.
func (d *HashMapDepth) scanBidBest(from int) int {
	if d.lowBidTick == InvalidMaxTick {
		return InvalidMinTick
	}
	for t := from; t >= d.lowBidTick; t-- {
		if d.bidDepth[t] > 0 {
			return t
		}
	}
	return InvalidMinTick
}

// scanAskBest finds the lowest occupied ask tick at or above from.
func (d *HashMapDepth) scanAskBest(from int) int {
	if d.highAskTick == InvalidMinTick {
		return InvalidMaxTick
	}
	for t := from; t <= d.highAskTick; t++ {
		if d.askDepth[t] > 0 {
			return t
		}
	}
	return InvalidMaxTick
}
