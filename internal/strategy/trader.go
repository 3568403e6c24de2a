// Package strategy contains trading strategies and the Trader contract they
// are written against. A strategy drives a Trader without knowing whether it
// is backed by the simulator or by a live venue connector.
package strategy

import (
	"hftsim/internal/depth"
	"hftsim/pkg/types"
)

// Trader is the facade a strategy trades through. Prices are floats converted
// to ticks internally; durations and timestamps are nanoseconds.
//
// Submit, modify, and cancel return strategy-retryable errors (duplicate id,
// unknown order, request already in flight); Elapse errors are fatal to the
// session. The boolean results report whether the session is still running —
// false means the data (or connection) ended.
type Trader interface {
	CurrentTimestamp() int64
	Depth() depth.MarketDepth
	Position() float64
	StateValues() types.StateValues
	Orders() map[int64]*types.Order
	Trades() []types.Row
	ClearLastTrades()
	ClearInactiveOrders()

	SubmitBuyOrder(orderID int64, price, qty float64, tif types.TimeInForce, typ types.OrdType, wait bool) (bool, error)
	SubmitSellOrder(orderID int64, price, qty float64, tif types.TimeInForce, typ types.OrdType, wait bool) (bool, error)
	ModifyOrder(orderID int64, price, qty float64, wait bool) (bool, error)
	Cancel(orderID int64, wait bool) (bool, error)
	WaitOrderResponse(orderID int64) (bool, error)

	// Elapse advances time by duration nanoseconds. ElapseBt advances
	// backtest time only: in the simulator both are identical, live ElapseBt
	// returns immediately.
	Elapse(duration int64) (bool, error)
	ElapseBt(duration int64) (bool, error)

	Close() error
}
