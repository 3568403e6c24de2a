package strategy

import (
	"log/slog"
	"math"

	"hftsim/internal/depth"
	"hftsim/pkg/types"
)

// GridParams tunes the grid-trading strategy.
type GridParams struct {
	HalfSpread     float64 // distance from mid to the nearest quote
	GridInterval   float64 // spacing between grid levels
	GridNum        int     // quotes per side
	Skew           float64 // price shift per unit of inventory
	OrderQty       float64 // quantity per quote
	UpdateInterval int64   // nanoseconds between requote cycles
	Report         func(t Trader)
}

// Grid quotes a ladder of GTX orders on both sides of an inventory-skewed
// mid. Each cycle it computes the desired ladder, cancels working orders that
// left it, and submits the missing rungs. Order ids are the quote's price
// tick, so a rung that survives a recompute keeps its queue position.
type Grid struct {
	params GridParams
	logger *slog.Logger
}

// NewGrid creates the strategy.
func NewGrid(params GridParams, logger *slog.Logger) *Grid {
	return &Grid{params: params, logger: logger.With("component", "grid")}
}

// Run drives the trader until the session ends or a fatal error occurs.
func (g *Grid) Run(t Trader) error {
	p := g.params
	cycles := 0
	for {
		ok, err := t.Elapse(p.UpdateInterval)
		if err != nil {
			return err
		}
		if !ok {
			g.logger.Info("session ended", "cycles", cycles, "position", t.Position())
			return nil
		}
		cycles++

		d := t.Depth()
		if d.BestBidTick() == depth.InvalidMinTick || d.BestAskTick() == depth.InvalidMaxTick {
			continue
		}
		mid := (d.BestBid() + d.BestAsk()) / 2
		position := t.Position()

		// Skew pushes the ladder away from the inventory so fills mean-revert
		// the position; quotes never cross the touch.
		bidBase := math.Min(mid-p.HalfSpread-p.Skew*position, d.BestBid())
		askBase := math.Max(mid+p.HalfSpread-p.Skew*position, d.BestAsk())
		bidStart := math.Floor(bidBase/p.GridInterval) * p.GridInterval
		askStart := math.Ceil(askBase/p.GridInterval) * p.GridInterval

		tickSize := d.TickSize()
		wantBuy := make(map[int64]float64, p.GridNum)
		wantSell := make(map[int64]float64, p.GridNum)
		for i := 0; i < p.GridNum; i++ {
			bid := bidStart - float64(i)*p.GridInterval
			ask := askStart + float64(i)*p.GridInterval
			if bid > 0 {
				wantBuy[tickID(bid, tickSize)] = bid
			}
			wantSell[tickID(ask, tickSize)] = ask
		}

		// Cancel rungs that fell out of the ladder.
		for id, order := range t.Orders() {
			if !order.Cancellable() {
				continue
			}
			want := wantSell
			if order.Side == types.Buy {
				want = wantBuy
			}
			if _, ok := want[id]; ok {
				delete(want, id) // rung already quoted; keep its queue position
				continue
			}
			if _, err := t.Cancel(id, false); err != nil {
				g.logger.Warn("cancel failed", "order_id", id, "error", err)
			}
		}

		// Submit the missing rungs, post-only.
		for id, price := range wantBuy {
			if _, live := t.Orders()[id]; live {
				continue
			}
			if _, err := t.SubmitBuyOrder(id, price, p.OrderQty, types.GTX, types.Limit, false); err != nil {
				g.logger.Warn("submit bid failed", "order_id", id, "error", err)
			}
		}
		for id, price := range wantSell {
			if _, live := t.Orders()[id]; live {
				continue
			}
			if _, err := t.SubmitSellOrder(id, price, p.OrderQty, types.GTX, types.Limit, false); err != nil {
				g.logger.Warn("submit ask failed", "order_id", id, "error", err)
			}
		}

		t.ClearInactiveOrders()
		if p.Report != nil {
			p.Report(t)
		}
	}
}

func tickID(price, tickSize float64) int64 {
	return int64(price/tickSize + 0.5)
}
