package backtest

import (
	"fmt"
	"sort"

	"hftsim/internal/depth"
	"hftsim/internal/models"
	"hftsim/pkg/types"
)

// Exchange is the matching-side processor. It owns the resting order map and
// the per-price-tick indices, replays exchange-tagged rows against them, and
// answers order requests from the inbound bus, emitting responses onto the
// outbound bus with response latency.
//
// Fills execute the whole remaining quantity at once; there are no partial
// fills.
type Exchange struct {
	reader *Reader
	data   *Data
	rowNum int

	orders     map[int64]*types.Order
	buyOrders  map[int]map[int64]struct{}
	sellOrders map[int]map[int64]struct{}

	ordersTo   *OrderBus // responses toward the local processor
	ordersFrom *OrderBus // requests from the local processor

	depth   depth.MarketDepth
	state   *State
	latency models.LatencyModel
	queue   models.QueueModel

	filled []int64
}

// NewExchange creates the matching-side processor.
func NewExchange(
	reader *Reader,
	md depth.MarketDepth,
	state *State,
	latency models.LatencyModel,
	queue models.QueueModel,
	ordersTo, ordersFrom *OrderBus,
) *Exchange {
	return &Exchange{
		reader:     reader,
		orders:     make(map[int64]*types.Order),
		buyOrders:  make(map[int]map[int64]struct{}),
		sellOrders: make(map[int]map[int64]struct{}),
		ordersTo:   ordersTo,
		ordersFrom: ordersFrom,
		depth:      md,
		state:      state,
		latency:    latency,
		queue:      queue,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Fills
// ————————————————————————————————————————————————————————————————————————

func (e *Exchange) fill(order *types.Order, timestamp int64, maker bool, execPriceTick int) (int64, error) {
	if order.Status.Terminal() {
		return 0, types.ErrInvalidOrderStatus
	}

	order.Maker = maker
	if maker {
		order.ExecPriceTick = order.PriceTick
	} else {
		order.ExecPriceTick = execPriceTick
	}
	order.ExecQty = order.LeavesQty
	order.LeavesQty = 0
	order.Status = types.StatusFilled
	order.ExchTimestamp = timestamp
	localRecvTS := timestamp + e.latency.Response(timestamp, order)

	e.state.ApplyFill(order)
	e.ordersTo.Append(order.Clone(), localRecvTS)
	return localRecvTS, nil
}

func (e *Exchange) checkIfSellFilled(order *types.Order, priceTick int, qty float64, timestamp int64) error {
	if order.PriceTick < priceTick {
		e.filled = append(e.filled, order.OrderID)
		_, err := e.fill(order, timestamp, true, order.PriceTick)
		return err
	}
	if order.PriceTick == priceTick {
		e.queue.Trade(order, qty, e.depth)
		if e.queue.IsFilled(order, e.depth) {
			e.filled = append(e.filled, order.OrderID)
			_, err := e.fill(order, timestamp, true, order.PriceTick)
			return err
		}
	}
	return nil
}

func (e *Exchange) checkIfBuyFilled(order *types.Order, priceTick int, qty float64, timestamp int64) error {
	if order.PriceTick > priceTick {
		e.filled = append(e.filled, order.OrderID)
		_, err := e.fill(order, timestamp, true, order.PriceTick)
		return err
	}
	if order.PriceTick == priceTick {
		e.queue.Trade(order, qty, e.depth)
		if e.queue.IsFilled(order, e.depth) {
			e.filled = append(e.filled, order.OrderID)
			_, err := e.fill(order, timestamp, true, order.PriceTick)
			return err
		}
	}
	return nil
}

func (e *Exchange) removeFilledOrders() {
	for _, orderID := range e.filled {
		order, ok := e.orders[orderID]
		if !ok {
			continue
		}
		delete(e.orders, orderID)
		e.unindex(order)
	}
	e.filled = e.filled[:0]
}

func (e *Exchange) index(order *types.Order) {
	byTick := e.buyOrders
	if order.Side == types.Sell {
		byTick = e.sellOrders
	}
	ids, ok := byTick[order.PriceTick]
	if !ok {
		ids = make(map[int64]struct{})
		byTick[order.PriceTick] = ids
	}
	ids[order.OrderID] = struct{}{}
}

func (e *Exchange) unindex(order *types.Order) {
	byTick := e.buyOrders
	if order.Side == types.Sell {
		byTick = e.sellOrders
	}
	if ids, ok := byTick[order.PriceTick]; ok {
		delete(ids, order.OrderID)
		if len(ids) == 0 {
			delete(byTick, order.PriceTick)
		}
	}
}

// Sweeps iterate orders in sorted id order so identical inputs replay to an
// identical response sequence, including floating-point accumulation order.
func sortedIDSet(ids map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Exchange) sortedOrderIDs() []int64 {
	out := make([]int64, 0, len(e.orders))
	for id := range e.orders {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Depth-driven matching
// ————————————————————————————————————————————————————————————————————————

func (e *Exchange) onBidQtyChg(priceTick int, prevQty, newQty float64) {
	for _, id := range sortedIDSet(e.buyOrders[priceTick]) {
		e.queue.Depth(e.orders[id], prevQty, newQty, e.depth)
	}
}

func (e *Exchange) onAskQtyChg(priceTick int, prevQty, newQty float64) {
	for _, id := range sortedIDSet(e.sellOrders[priceTick]) {
		e.queue.Depth(e.orders[id], prevQty, newQty, e.depth)
	}
}

// onBestBidUpdate fills every resting sell the improving bid crossed into.
// When the tick span exceeds the number of resting orders (or the previous
// best was the empty sentinel) the order map is walked instead of the ladder;
// both paths fill the same set.
func (e *Exchange) onBestBidUpdate(prevBestTick, newBestTick int, timestamp int64) error {
	if prevBestTick == depth.InvalidMinTick || len(e.orders) < newBestTick-prevBestTick {
		for _, id := range e.sortedOrderIDs() {
			order := e.orders[id]
			if order.Side == types.Sell && order.PriceTick <= newBestTick {
				e.filled = append(e.filled, order.OrderID)
				if _, err := e.fill(order, timestamp, true, order.PriceTick); err != nil {
					return err
				}
			}
		}
	} else {
		for t := prevBestTick + 1; t <= newBestTick; t++ {
			for _, id := range sortedIDSet(e.sellOrders[t]) {
				e.filled = append(e.filled, id)
				if _, err := e.fill(e.orders[id], timestamp, true, t); err != nil {
					return err
				}
			}
		}
	}
	e.removeFilledOrders()
	return nil
}

func (e *Exchange) onBestAskUpdate(prevBestTick, newBestTick int, timestamp int64) error {
	if prevBestTick == depth.InvalidMaxTick || len(e.orders) < prevBestTick-newBestTick {
		for _, id := range e.sortedOrderIDs() {
			order := e.orders[id]
			if order.Side == types.Buy && order.PriceTick >= newBestTick {
				e.filled = append(e.filled, order.OrderID)
				if _, err := e.fill(order, timestamp, true, order.PriceTick); err != nil {
					return err
				}
			}
		}
	} else {
		for t := newBestTick; t < prevBestTick; t++ {
			for _, id := range sortedIDSet(e.buyOrders[t]) {
				e.filled = append(e.filled, id)
				if _, err := e.fill(e.orders[id], timestamp, true, t); err != nil {
					return err
				}
			}
		}
	}
	e.removeFilledOrders()
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Order request handling
// ————————————————————————————————————————————————————————————————————————

func (e *Exchange) respond(order *types.Order, timestamp int64) int64 {
	order.ExchTimestamp = timestamp
	localRecvTS := timestamp + e.latency.Response(timestamp, order)
	e.ordersTo.Append(order.Clone(), localRecvTS)
	return localRecvTS
}

func (e *Exchange) ackNew(order *types.Order, timestamp int64) (int64, error) {
	if _, ok := e.orders[order.OrderID]; ok {
		return 0, types.ErrOrderAlreadyExist
	}

	crossing := false
	oppBestTick := 0
	if order.Side == types.Buy {
		oppBestTick = e.depth.BestAskTick()
		crossing = order.PriceTick >= oppBestTick
	} else {
		oppBestTick = e.depth.BestBidTick()
		crossing = order.PriceTick <= oppBestTick
	}

	if crossing {
		if order.TimeInForce == types.GTX {
			// Post-only violation.
			order.Status = types.StatusExpired
			return e.respond(order, timestamp), nil
		}
		// Takes the market at the opposing best.
		return e.fill(order, timestamp, false, oppBestTick)
	}

	e.queue.NewOrder(order, e.depth)
	order.Status = types.StatusNew
	e.index(order)
	localRecvTS := e.respond(order, timestamp)
	e.orders[order.OrderID] = order
	return localRecvTS, nil
}

func (e *Exchange) ackCancel(order *types.Order, timestamp int64) (int64, error) {
	exchOrder, ok := e.orders[order.OrderID]
	if !ok {
		// Already filled or expired. The response would land on an order id
		// the local side may have reused, so it is computed but not sent.
		order.Status = types.StatusExpired
		order.ExchTimestamp = timestamp
		return timestamp + e.latency.Response(timestamp, order), nil
	}

	delete(e.orders, exchOrder.OrderID)
	e.unindex(exchOrder)
	exchOrder.Status = types.StatusCanceled
	return e.respond(exchOrder, timestamp), nil
}

func (e *Exchange) ackModify(order *types.Order, timestamp int64) (int64, error) {
	exchOrder, ok := e.orders[order.OrderID]
	if !ok {
		// Same expiry semantics as a cancel of a gone order: not sent.
		order.Status = types.StatusExpired
		order.ExchTimestamp = timestamp
		return timestamp + e.latency.Response(timestamp, order), nil
	}

	delete(e.orders, exchOrder.OrderID)
	prevPriceTick := exchOrder.PriceTick
	exchOrder.PriceTick = order.PriceTick
	exchOrder.Qty = order.Qty
	exchOrder.LeavesQty = order.Qty

	crossing := false
	oppBestTick := 0
	if exchOrder.Side == types.Buy {
		oppBestTick = e.depth.BestAskTick()
		crossing = exchOrder.PriceTick >= oppBestTick
	} else {
		oppBestTick = e.depth.BestBidTick()
		crossing = exchOrder.PriceTick <= oppBestTick
	}

	if crossing {
		e.unindexAt(exchOrder, prevPriceTick)
		if exchOrder.TimeInForce == types.GTX {
			exchOrder.Status = types.StatusExpired
			return e.respond(exchOrder, timestamp), nil
		}
		return e.fill(exchOrder, timestamp, false, oppBestTick)
	}

	if prevPriceTick != exchOrder.PriceTick {
		e.unindexAt(exchOrder, prevPriceTick)
		e.index(exchOrder)
	}
	// Queue position restarts on every modify; venues that keep priority on
	// size-down modifies would specialize here.
	e.queue.NewOrder(exchOrder, e.depth)
	exchOrder.Status = types.StatusNew
	localRecvTS := e.respond(exchOrder, timestamp)
	e.orders[exchOrder.OrderID] = exchOrder
	return localRecvTS, nil
}

func (e *Exchange) unindexAt(order *types.Order, priceTick int) {
	byTick := e.buyOrders
	if order.Side == types.Sell {
		byTick = e.sellOrders
	}
	if ids, ok := byTick[priceTick]; ok {
		delete(ids, order.OrderID)
		if len(ids) == 0 {
			delete(byTick, priceTick)
		}
	}
}

func (e *Exchange) processRecvOrder1(order *types.Order, recvTS, waitResp, nextTS int64) (int64, error) {
	var (
		respTS int64
		err    error
	)
	req := order.Req
	order.Req = types.StatusNone
	switch req {
	case types.StatusNew:
		respTS, err = e.ackNew(order, recvTS)
	case types.StatusCanceled:
		respTS, err = e.ackCancel(order, recvTS)
	case types.StatusModified:
		respTS, err = e.ackModify(order, recvTS)
	default:
		return 0, types.ErrInvalidOrderRequest
	}
	if err != nil {
		return 0, err
	}
	if waitResp == order.OrderID && respTS < nextTS {
		return respTS, nil
	}
	return nextTS, nil
}

// ProcessRecvOrder drains every request delivered exactly at timestamp.
// When waitResp names one of them, the returned timestamp is the local
// delivery time of its response; otherwise TimestampMax.
func (e *Exchange) ProcessRecvOrder(timestamp int64, waitResp int64) (int64, error) {
	nextTS := types.TimestampMax
	for e.ordersFrom.Len() > 0 {
		recvTS := e.ordersFrom.HeadTimestamp()
		if recvTS != timestamp {
			if recvTS < timestamp {
				return 0, fmt.Errorf("%w: request at %d behind clock %d", types.ErrInvalidOrderRequest, recvTS, timestamp)
			}
			break
		}
		order, _ := e.ordersFrom.PopHead()
		var err error
		nextTS, err = e.processRecvOrder1(order, recvTS, waitResp, nextTS)
		if err != nil {
			return 0, err
		}
	}
	return nextTS, nil
}

// FrontRecvTimestamp returns the earliest inbound delivery timestamp.
func (e *Exchange) FrontRecvTimestamp() int64 { return e.ordersFrom.HeadTimestamp() }

// ————————————————————————————————————————————————————————————————————————
// Data replay
// ————————————————————————————————————————————————————————————————————————

// InitializeData loads the first chunk and positions the cursor on the first
// exchange-tagged row, returning its exchange timestamp.
func (e *Exchange) InitializeData() (int64, error) {
	data, err := e.reader.Next()
	if err != nil {
		return 0, err
	}
	e.data = data
	for rn := 0; rn < data.Len(); rn++ {
		if data.Rows[rn].Ev&types.EventExch == types.EventExch {
			e.rowNum = rn
			return data.Rows[rn].ExchTS, nil
		}
	}
	return 0, types.ErrEndOfData
}

// ProcessData interprets the current row — updating depth, queue positions,
// and fills — then advances to the next exchange-tagged row and returns its
// exchange timestamp.
func (e *Exchange) ProcessData() (int64, error) {
	row := &e.data.Rows[e.rowNum]
	switch {
	case row.Ev&types.ExchBidDepthClearEvent == types.ExchBidDepthClearEvent:
		e.depth.ClearDepth(types.Buy, row.Px)
	case row.Ev&types.ExchAskDepthClearEvent == types.ExchAskDepthClearEvent:
		e.depth.ClearDepth(types.Sell, row.Px)
	case row.Ev&types.ExchBidDepthEvent == types.ExchBidDepthEvent ||
		row.Ev&types.ExchBidDepthSnapshotEvent == types.ExchBidDepthSnapshotEvent:
		up := e.depth.UpdateBidDepth(row.Px, float64(row.Qty), row.ExchTS)
		e.onBidQtyChg(up.PriceTick, up.PrevQty, up.NewQty)
		if up.BestTick > up.PrevBestTick {
			if err := e.onBestBidUpdate(up.PrevBestTick, up.BestTick, up.Timestamp); err != nil {
				return 0, err
			}
		}
	case row.Ev&types.ExchAskDepthEvent == types.ExchAskDepthEvent ||
		row.Ev&types.ExchAskDepthSnapshotEvent == types.ExchAskDepthSnapshotEvent:
		up := e.depth.UpdateAskDepth(row.Px, float64(row.Qty), row.ExchTS)
		e.onAskQtyChg(up.PriceTick, up.PrevQty, up.NewQty)
		if up.BestTick < up.PrevBestTick {
			if err := e.onBestAskUpdate(up.PrevBestTick, up.BestTick, up.Timestamp); err != nil {
				return 0, err
			}
		}
	case row.Ev&types.ExchBuyTradeEvent == types.ExchBuyTradeEvent:
		if err := e.onBuyTrade(row); err != nil {
			return 0, err
		}
	case row.Ev&types.ExchSellTradeEvent == types.ExchSellTradeEvent:
		if err := e.onSellTrade(row); err != nil {
			return 0, err
		}
	}

	return e.advance()
}

// onBuyTrade handles an aggressing buy print: resting sells inside the swept
// range may be hit.
func (e *Exchange) onBuyTrade(row *types.Row) error {
	priceTick := roundTick(row.Px, e.depth.TickSize())
	qty := float64(row.Qty)
	bestBidTick := e.depth.BestBidTick()

	if bestBidTick == depth.InvalidMinTick || len(e.orders) < priceTick-bestBidTick {
		for _, id := range e.sortedOrderIDs() {
			order := e.orders[id]
			if order.Side == types.Sell {
				if err := e.checkIfSellFilled(order, priceTick, qty, row.ExchTS); err != nil {
					return err
				}
			}
		}
	} else {
		for t := bestBidTick + 1; t <= priceTick; t++ {
			for _, id := range sortedIDSet(e.sellOrders[t]) {
				if err := e.checkIfSellFilled(e.orders[id], priceTick, qty, row.ExchTS); err != nil {
					return err
				}
			}
		}
	}
	e.removeFilledOrders()
	return nil
}

// onSellTrade handles an aggressing sell print: resting buys inside the swept
// range may be hit.
func (e *Exchange) onSellTrade(row *types.Row) error {
	priceTick := roundTick(row.Px, e.depth.TickSize())
	qty := float64(row.Qty)
	bestAskTick := e.depth.BestAskTick()

	if bestAskTick == depth.InvalidMaxTick || len(e.orders) < bestAskTick-priceTick {
		for _, id := range e.sortedOrderIDs() {
			order := e.orders[id]
			if order.Side == types.Buy {
				if err := e.checkIfBuyFilled(order, priceTick, qty, row.ExchTS); err != nil {
					return err
				}
			}
		}
	} else {
		for t := bestAskTick - 1; t >= priceTick; t-- {
			for _, id := range sortedIDSet(e.buyOrders[t]) {
				if err := e.checkIfBuyFilled(e.orders[id], priceTick, qty, row.ExchTS); err != nil {
					return err
				}
			}
		}
	}
	e.removeFilledOrders()
	return nil
}

func (e *Exchange) advance() (int64, error) {
	for rn := e.rowNum + 1; rn < e.data.Len(); rn++ {
		if e.data.Rows[rn].Ev&types.EventExch == types.EventExch {
			e.rowNum = rn
			return e.data.Rows[rn].ExchTS, nil
		}
	}

	next, err := e.reader.Next()
	if err != nil {
		return 0, err
	}
	e.reader.Release(e.data)
	e.data = next
	e.rowNum = 0
	if next.Len() == 0 {
		return 0, types.ErrEndOfData
	}
	if next.Rows[0].Ev&types.EventExch != types.EventExch {
		return e.advance()
	}
	return next.Rows[0].ExchTS, nil
}
