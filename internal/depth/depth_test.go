package depth

import (
	"math"
	"testing"

	"hftsim/pkg/types"
)

// Both implementations must satisfy the same contract; run the suite over
// each via a constructor table.
var implementations = []struct {
	name string
	make func() MarketDepth
}{
	{"hashmap", func() MarketDepth { return NewHashMapDepth(0.1, 0.001) }},
	{"btree", func() MarketDepth { return NewBTreeDepth(0.1, 0.001) }},
}

func TestEmptyBookSentinels(t *testing.T) {
	t.Parallel()
	for _, impl := range implementations {
		d := impl.make()
		if got := d.BestBidTick(); got != InvalidMinTick {
			t.Errorf("%s: BestBidTick = %d, want InvalidMinTick", impl.name, got)
		}
		if got := d.BestAskTick(); got != InvalidMaxTick {
			t.Errorf("%s: BestAskTick = %d, want InvalidMaxTick", impl.name, got)
		}
	}
}

func TestUpdateBidDepthTracksBest(t *testing.T) {
	t.Parallel()
	for _, impl := range implementations {
		d := impl.make()

		up := d.UpdateBidDepth(100.0, 5, 1)
		if up.PriceTick != 1000 {
			t.Errorf("%s: PriceTick = %d, want 1000", impl.name, up.PriceTick)
		}
		if up.PrevBestTick != InvalidMinTick || up.BestTick != 1000 {
			t.Errorf("%s: best %d -> %d, want sentinel -> 1000", impl.name, up.PrevBestTick, up.BestTick)
		}

		up = d.UpdateBidDepth(100.2, 3, 2)
		if up.PrevBestTick != 1000 || up.BestTick != 1002 {
			t.Errorf("%s: best %d -> %d, want 1000 -> 1002", impl.name, up.PrevBestTick, up.BestTick)
		}
		if got := d.BidQtyAt(1000); got != 5 {
			t.Errorf("%s: BidQtyAt(1000) = %v, want 5", impl.name, got)
		}
	}
}

func TestZeroQtyRemovesLevelAndRescansBest(t *testing.T) {
	t.Parallel()
	for _, impl := range implementations {
		d := impl.make()
		d.UpdateBidDepth(100.0, 5, 1)
		d.UpdateBidDepth(100.2, 3, 2)

		up := d.UpdateBidDepth(100.2, 0, 3)
		if up.PrevQty != 3 || up.NewQty != 0 {
			t.Errorf("%s: qty %v -> %v, want 3 -> 0", impl.name, up.PrevQty, up.NewQty)
		}
		if up.BestTick != 1000 {
			t.Errorf("%s: best after removal = %d, want 1000", impl.name, up.BestTick)
		}

		up = d.UpdateBidDepth(100.0, 0, 4)
		if up.BestTick != InvalidMinTick {
			t.Errorf("%s: best after emptying = %d, want sentinel", impl.name, up.BestTick)
		}
	}
}

func TestAskSideMirrors(t *testing.T) {
	t.Parallel()
	for _, impl := range implementations {
		d := impl.make()
		d.UpdateAskDepth(100.3, 4, 1)
		up := d.UpdateAskDepth(100.1, 2, 2)
		if up.PrevBestTick != 1003 || up.BestTick != 1001 {
			t.Errorf("%s: ask best %d -> %d, want 1003 -> 1001", impl.name, up.PrevBestTick, up.BestTick)
		}
		up = d.UpdateAskDepth(100.1, 0, 3)
		if up.BestTick != 1003 {
			t.Errorf("%s: ask best after removal = %d, want 1003", impl.name, up.BestTick)
		}
	}
}

func TestCrossedFeedDropsStaleOpposite(t *testing.T) {
	t.Parallel()
	for _, impl := range implementations {
		d := impl.make()
		d.UpdateAskDepth(100.1, 1, 1)
		d.UpdateAskDepth(100.2, 1, 2)

		// A bid printing at 100.1 means the 100.1 ask is gone.
		d.UpdateBidDepth(100.1, 1, 3)
		if got := d.BestAskTick(); got != 1002 {
			t.Errorf("%s: BestAskTick = %d, want 1002", impl.name, got)
		}
		if got := d.BestBidTick(); got != 1001 {
			t.Errorf("%s: BestBidTick = %d, want 1001", impl.name, got)
		}
	}
}

func TestClearDepth(t *testing.T) {
	t.Parallel()
	for _, impl := range implementations {
		d := impl.make()
		d.UpdateBidDepth(99.8, 1, 1)
		d.UpdateBidDepth(99.9, 2, 2)
		d.UpdateBidDepth(100.0, 3, 3)

		// Clear bids at 99.9 and better.
		d.ClearDepth(types.Buy, 99.9)
		if got := d.BestBidTick(); got != 998 {
			t.Errorf("%s: BestBidTick after clear = %d, want 998", impl.name, got)
		}
		if got := d.BidQtyAt(1000); got != 0 {
			t.Errorf("%s: BidQtyAt(1000) = %v, want 0", impl.name, got)
		}

		d.UpdateAskDepth(100.1, 1, 4)
		d.UpdateAskDepth(100.2, 1, 5)
		d.ClearDepth(types.Sell, 100.1)
		if got := d.BestAskTick(); got != 1002 {
			t.Errorf("%s: BestAskTick after clear = %d, want 1002", impl.name, got)
		}
	}
}

func TestBestPricesFromTicks(t *testing.T) {
	t.Parallel()
	for _, impl := range implementations {
		d := impl.make()
		d.UpdateBidDepth(100.0, 5, 1)
		d.UpdateAskDepth(100.1, 5, 2)
		if got := d.BestBid(); math.Abs(got-100.0) > 1e-9 {
			t.Errorf("%s: BestBid = %v, want 100.0", impl.name, got)
		}
		if got := d.BestAsk(); math.Abs(got-100.1) > 1e-9 {
			t.Errorf("%s: BestAsk = %v, want 100.1", impl.name, got)
		}
	}
}
