package backtest

import (
	"errors"

	"hftsim/internal/depth"
	"hftsim/pkg/types"
)

// Backtest couples the two processors under one logical clock and exposes the
// strategy facade. Each step advances whichever processor has the earlier
// pending work — the smaller of its next data timestamp and its inbound bus
// head — with ties going to the exchange so matching happens before the
// strategy observes its consequences.
type Backtest struct {
	local *Local
	exch  *Exchange

	curTS     int64
	localNext int64
	exchNext  int64
}

// New wires the processors and primes both data cursors.
func New(local *Local, exch *Exchange) (*Backtest, error) {
	localNext, err := local.InitializeData()
	if err != nil {
		return nil, err
	}
	exchNext, err := exch.InitializeData()
	if err != nil {
		return nil, err
	}
	return &Backtest{
		local:     local,
		exch:      exch,
		curTS:     localNext,
		localNext: localNext,
		exchNext:  exchNext,
	}, nil
}

// goTo advances simulated time to goal. waitResp may name an order id whose
// response delivery ends the advance early (TimestampMax for none). Returns
// false when the data is exhausted.
func (bt *Backtest) goTo(goal int64, waitResp int64) (bool, error) {
	for {
		localT := minTS(bt.localNext, bt.local.FrontRecvTimestamp())
		exchT := minTS(bt.exchNext, bt.exch.FrontRecvTimestamp())
		if localT > goal && exchT > goal {
			bt.curTS = goal
			return true, nil
		}

		if exchT <= localT {
			if bt.exch.FrontRecvTimestamp() == exchT {
				respTS, err := bt.exch.ProcessRecvOrder(exchT, waitResp)
				if err != nil {
					return false, err
				}
				// Stop once the awaited response reaches the local side.
				if respTS < goal {
					goal = respTS
				}
			} else {
				next, err := bt.exch.ProcessData()
				if err != nil {
					if errors.Is(err, types.ErrEndOfData) {
						bt.curTS = exchT
						return false, nil
					}
					return false, err
				}
				bt.exchNext = next
			}
			if exchT > bt.curTS {
				bt.curTS = exchT
			}
		} else {
			if bt.local.FrontRecvTimestamp() == localT {
				if _, err := bt.local.ProcessRecvOrder(localT, waitResp); err != nil {
					return false, err
				}
			} else {
				next, err := bt.local.ProcessData()
				if err != nil {
					if errors.Is(err, types.ErrEndOfData) {
						bt.curTS = localT
						return false, nil
					}
					return false, err
				}
				bt.localNext = next
			}
			if localT > bt.curTS {
				bt.curTS = localT
			}
		}
	}
}

func minTS(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// ————————————————————————————————————————————————————————————————————————
// Strategy facade
// ————————————————————————————————————————————————————————————————————————

// CurrentTimestamp returns the strategy-side clock in nanoseconds.
func (bt *Backtest) CurrentTimestamp() int64 { return bt.curTS }

// Depth returns the strategy-visible book.
func (bt *Backtest) Depth() depth.MarketDepth { return bt.local.Depth() }

// Position returns the current signed position.
func (bt *Backtest) Position() float64 { return bt.local.Position() }

// StateValues returns a snapshot of the account state.
func (bt *Backtest) StateValues() types.StateValues { return bt.local.StateValues() }

// Equity values the account at the given mark price.
func (bt *Backtest) Equity(price float64) float64 { return bt.local.Equity(price) }

// Orders returns the strategy-visible order map (read-only for callers).
func (bt *Backtest) Orders() map[int64]*types.Order { return bt.local.Orders() }

// Trades returns trades captured since the last ClearLastTrades.
func (bt *Backtest) Trades() []types.Row { return bt.local.Trades() }

// ClearLastTrades empties the trade buffer.
func (bt *Backtest) ClearLastTrades() { bt.local.ClearLastTrades() }

// ClearInactiveOrders drops terminal orders from the strategy's view.
func (bt *Backtest) ClearInactiveOrders() { bt.local.ClearInactiveOrders() }

// SubmitBuyOrder submits a buy order; with wait set, it blocks simulated time
// until the order's response arrives.
func (bt *Backtest) SubmitBuyOrder(orderID int64, price, qty float64, tif types.TimeInForce, typ types.OrdType, wait bool) (bool, error) {
	if err := bt.local.SubmitOrder(orderID, types.Buy, price, qty, typ, tif, bt.curTS); err != nil {
		return false, err
	}
	if wait {
		return bt.goTo(types.TimestampMax, orderID)
	}
	return true, nil
}

// SubmitSellOrder submits a sell order; see SubmitBuyOrder.
func (bt *Backtest) SubmitSellOrder(orderID int64, price, qty float64, tif types.TimeInForce, typ types.OrdType, wait bool) (bool, error) {
	if err := bt.local.SubmitOrder(orderID, types.Sell, price, qty, typ, tif, bt.curTS); err != nil {
		return false, err
	}
	if wait {
		return bt.goTo(types.TimestampMax, orderID)
	}
	return true, nil
}

// ModifyOrder changes the price and quantity of a working order.
func (bt *Backtest) ModifyOrder(orderID int64, price, qty float64, wait bool) (bool, error) {
	if err := bt.local.Modify(orderID, price, qty, bt.curTS); err != nil {
		return false, err
	}
	if wait {
		return bt.goTo(types.TimestampMax, orderID)
	}
	return true, nil
}

// Cancel requests cancellation of a working order.
func (bt *Backtest) Cancel(orderID int64, wait bool) (bool, error) {
	if err := bt.local.Cancel(orderID, bt.curTS); err != nil {
		return false, err
	}
	if wait {
		return bt.goTo(types.TimestampMax, orderID)
	}
	return true, nil
}

// WaitOrderResponse advances until the given order's response is delivered.
func (bt *Backtest) WaitOrderResponse(orderID int64) (bool, error) {
	return bt.goTo(types.TimestampMax, orderID)
}

// Elapse advances simulated time by duration nanoseconds.
func (bt *Backtest) Elapse(duration int64) (bool, error) {
	return bt.goTo(bt.curTS+duration, types.TimestampMax)
}

// ElapseBt advances backtest time only; identical to Elapse here, present so
// strategies can burn backtest time without real-time sleeps when running
// live.
func (bt *Backtest) ElapseBt(duration int64) (bool, error) {
	return bt.Elapse(duration)
}

// Close releases the processors' outstanding data chunks.
func (bt *Backtest) Close() error {
	bt.local.reader.Release(bt.local.data)
	bt.exch.reader.Release(bt.exch.data)
	return nil
}
