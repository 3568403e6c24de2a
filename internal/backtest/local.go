package backtest

import (
	"fmt"

	"hftsim/internal/depth"
	"hftsim/internal/models"
	"hftsim/pkg/types"
)

// Local is the strategy-side processor. It replays local-tagged rows into the
// strategy's depth view and trade buffer, sends order requests onto the
// outbound bus with entry latency, and applies exchange responses arriving on
// the inbound bus to its order map and state.
type Local struct {
	reader *Reader
	data   *Data
	rowNum int

	orders     map[int64]*types.Order
	ordersTo   *OrderBus
	ordersFrom *OrderBus

	depth   depth.MarketDepth
	state   *State
	latency models.LatencyModel

	trades   []types.Row
	tradeCap int

	// Last observed one-way entry latency and round-trip latency, in
	// nanoseconds; -1 until the first response arrives.
	LastEntryLatency     int64
	LastRoundTripLatency int64
}

// NewLocal creates the strategy-side processor. ordersTo is the bus toward
// the exchange and ordersFrom the response bus back; tradeCap bounds the
// trade buffer (0 disables trade capture).
func NewLocal(
	reader *Reader,
	md depth.MarketDepth,
	state *State,
	latency models.LatencyModel,
	tradeCap int,
	ordersTo, ordersFrom *OrderBus,
) *Local {
	return &Local{
		reader:               reader,
		orders:               make(map[int64]*types.Order),
		ordersTo:             ordersTo,
		ordersFrom:           ordersFrom,
		depth:                md,
		state:                state,
		latency:              latency,
		tradeCap:             tradeCap,
		LastEntryLatency:     -1,
		LastRoundTripLatency: -1,
	}
}

// SubmitOrder sends a new order request. The order is also inserted into the
// local map immediately so the strategy sees it as pending.
func (l *Local) SubmitOrder(
	orderID int64,
	side types.Side,
	price, qty float64,
	typ types.OrdType,
	tif types.TimeInForce,
	now int64,
) error {
	if _, ok := l.orders[orderID]; ok {
		return types.ErrOrderAlreadyExist
	}

	tickSize := l.depth.TickSize()
	priceTick := roundTick(price, tickSize)
	order := types.NewOrder(orderID, priceTick, tickSize, qty, side, typ, tif)
	order.Status = types.StatusNew
	order.Req = types.StatusNew
	order.LocalTimestamp = now

	exchRecvTS := now + l.latency.Entry(now, order)
	l.ordersTo.Append(order.Clone(), exchRecvTS)
	l.orders[orderID] = order
	return nil
}

// Cancel sends a cancel request for a working order.
func (l *Local) Cancel(orderID int64, now int64) error {
	order, ok := l.orders[orderID]
	if !ok {
		return types.ErrOrderNotFound
	}
	if order.Req != types.StatusNone {
		return types.ErrOrderRequestInProcess
	}

	order.Req = types.StatusCanceled
	req := order.Clone()
	req.LocalTimestamp = now
	exchRecvTS := now + l.latency.Entry(now, order)
	l.ordersTo.Append(req, exchRecvTS)
	return nil
}

// Modify sends a price/quantity modify request for a working order.
func (l *Local) Modify(orderID int64, price, qty float64, now int64) error {
	order, ok := l.orders[orderID]
	if !ok {
		return types.ErrOrderNotFound
	}
	if order.Req != types.StatusNone {
		return types.ErrOrderRequestInProcess
	}

	order.Req = types.StatusModified
	req := order.Clone()
	req.PriceTick = roundTick(price, l.depth.TickSize())
	req.Qty = qty
	req.LocalTimestamp = now
	exchRecvTS := now + l.latency.Entry(now, order)
	l.ordersTo.Append(req, exchRecvTS)
	return nil
}

// ClearInactiveOrders drops orders in a terminal status from the local map.
func (l *Local) ClearInactiveOrders() {
	for id, order := range l.orders {
		if order.Status.Terminal() {
			delete(l.orders, id)
		}
	}
}

// Position returns the current signed position.
func (l *Local) Position() float64 { return l.state.Position }

// StateValues returns a snapshot of the account state.
func (l *Local) StateValues() types.StateValues { return l.state.Values() }

// Equity values the account at the given mark price.
func (l *Local) Equity(price float64) float64 { return l.state.Equity(price) }

// Depth returns the strategy-visible order book.
func (l *Local) Depth() depth.MarketDepth { return l.depth }

// Orders returns the local order map. Callers must treat it as read-only.
func (l *Local) Orders() map[int64]*types.Order { return l.orders }

// Trades returns the trades captured since the last ClearLastTrades.
func (l *Local) Trades() []types.Row { return l.trades }

// ClearLastTrades empties the trade buffer.
func (l *Local) ClearLastTrades() { l.trades = l.trades[:0] }

// InitializeData loads the first chunk and positions the cursor on the first
// local-tagged row, returning its local timestamp.
func (l *Local) InitializeData() (int64, error) {
	data, err := l.reader.Next()
	if err != nil {
		return 0, err
	}
	l.data = data
	for rn := 0; rn < data.Len(); rn++ {
		if data.Rows[rn].Ev&types.EventLocal == types.EventLocal {
			l.rowNum = rn
			return data.Rows[rn].LocalTS, nil
		}
	}
	return 0, types.ErrEndOfData
}

// ProcessData interprets the current row, advances to the next local-tagged
// row (crossing chunk boundaries as needed), and returns its local timestamp.
func (l *Local) ProcessData() (int64, error) {
	row := &l.data.Rows[l.rowNum]
	switch {
	case row.Ev&types.LocalBidDepthClearEvent == types.LocalBidDepthClearEvent:
		l.depth.ClearDepth(types.Buy, row.Px)
	case row.Ev&types.LocalAskDepthClearEvent == types.LocalAskDepthClearEvent:
		l.depth.ClearDepth(types.Sell, row.Px)
	case row.Ev&types.LocalBidDepthEvent == types.LocalBidDepthEvent ||
		row.Ev&types.LocalBidDepthSnapshotEvent == types.LocalBidDepthSnapshotEvent:
		l.depth.UpdateBidDepth(row.Px, float64(row.Qty), row.LocalTS)
	case row.Ev&types.LocalAskDepthEvent == types.LocalAskDepthEvent ||
		row.Ev&types.LocalAskDepthSnapshotEvent == types.LocalAskDepthSnapshotEvent:
		l.depth.UpdateAskDepth(row.Px, float64(row.Qty), row.LocalTS)
	case row.Ev&types.LocalTradeEvent == types.LocalTradeEvent:
		if l.tradeCap > 0 {
			if len(l.trades) == l.tradeCap {
				copy(l.trades, l.trades[1:])
				l.trades = l.trades[:l.tradeCap-1]
			}
			l.trades = append(l.trades, *row)
		}
	}

	return l.advance()
}

func (l *Local) advance() (int64, error) {
	for rn := l.rowNum + 1; rn < l.data.Len(); rn++ {
		if l.data.Rows[rn].Ev&types.EventLocal == types.EventLocal {
			l.rowNum = rn
			return l.data.Rows[rn].LocalTS, nil
		}
	}

	next, err := l.reader.Next()
	if err != nil {
		return 0, err
	}
	l.reader.Release(l.data)
	l.data = next
	l.rowNum = 0
	if next.Len() == 0 {
		return 0, types.ErrEndOfData
	}
	if next.Rows[0].Ev&types.EventLocal != types.EventLocal {
		return l.advance()
	}
	return next.Rows[0].LocalTS, nil
}

// ProcessRecvOrder drains every response delivered exactly at timestamp,
// applying fills to the state and overwriting the local order record.
func (l *Local) ProcessRecvOrder(timestamp int64, _ int64) (int64, error) {
	for l.ordersFrom.Len() > 0 {
		recvTS := l.ordersFrom.HeadTimestamp()
		if recvTS != timestamp {
			if recvTS < timestamp {
				return 0, fmt.Errorf("%w: response at %d behind clock %d", types.ErrInvalidOrderRequest, recvTS, timestamp)
			}
			break
		}
		order, _ := l.ordersFrom.PopHead()
		l.LastEntryLatency = order.ExchTimestamp - order.LocalTimestamp
		l.LastRoundTripLatency = recvTS - order.LocalTimestamp
		if order.Status == types.StatusFilled {
			l.state.ApplyFill(order)
		}
		l.orders[order.OrderID] = order
	}
	return types.TimestampMax, nil
}

// FrontRecvTimestamp returns the earliest inbound delivery timestamp.
func (l *Local) FrontRecvTimestamp() int64 { return l.ordersFrom.HeadTimestamp() }

func roundTick(price, tickSize float64) int {
	if price >= 0 {
		return int(price/tickSize + 0.5)
	}
	return int(price/tickSize - 0.5)
}
