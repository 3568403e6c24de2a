// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the simulator and the live
// connector — orders and their lifecycle enums, recorded market-data rows
// with their event bitmask, and the cumulative trading state values. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"errors"
	"math"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order. The numeric values are the
// position sign, so float64(side) can be used directly in accounting.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return "UNKNOWN"
}

// Status is an order lifecycle state. It doubles as the pending-request tag
// on Order.Req: New means a submit is in flight, Canceled a cancel, Modified
// a modify; StatusNone means the order accepts a new request.
type Status int8

const (
	StatusNone Status = iota
	StatusNew
	StatusExpired
	StatusFilled
	StatusCanceled
	StatusPartiallyFilled
	StatusModified
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusNew:
		return "NEW"
	case StatusExpired:
		return "EXPIRED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusModified:
		return "MODIFIED"
	}
	return "UNKNOWN"
}

// Terminal reports whether the status ends the order's life.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusExpired
}

// OrdType enumerates order types.
type OrdType int8

const (
	Limit OrdType = iota
	Market
)

func (t OrdType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	}
	return "UNKNOWN"
}

// TimeInForce enumerates how long an order remains working.
type TimeInForce int8

const (
	GTC TimeInForce = iota // good till cancel
	GTX                    // post only: expires instead of taking
	IOC                    // immediate or cancel
	FOK                    // fill or kill
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case GTX:
		return "GTX"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	}
	return "UNKNOWN"
}

// ————————————————————————————————————————————————————————————————————————
// Order
// ————————————————————————————————————————————————————————————————————————

// Order is the single order record shared by the local (strategy-side) view,
// the exchange-side resting book, and the order buses between them. Prices
// are integer ticks: PriceTick * TickSize recovers the price to
// floating-point precision.
//
// Queue is an opaque queue-position value owned by the queue model; nothing
// else reads or writes it.
type Order struct {
	OrderID        int64
	Side           Side
	PriceTick      int
	TickSize       float64
	Qty            float64
	LeavesQty      float64
	ExecQty        float64
	ExecPriceTick  int
	Type           OrdType
	TimeInForce    TimeInForce
	Status         Status
	Req            Status
	ExchTimestamp  int64
	LocalTimestamp int64
	Maker          bool
	Queue          any
}

// NewOrder constructs an order in its pre-submit state.
func NewOrder(orderID int64, priceTick int, tickSize, qty float64, side Side, typ OrdType, tif TimeInForce) *Order {
	return &Order{
		OrderID:     orderID,
		Side:        side,
		PriceTick:   priceTick,
		TickSize:    tickSize,
		Qty:         qty,
		LeavesQty:   qty,
		Type:        typ,
		TimeInForce: tif,
		Status:      StatusNone,
		Req:         StatusNone,
	}
}

// Price returns the order price reconstructed from ticks.
func (o *Order) Price() float64 { return float64(o.PriceTick) * o.TickSize }

// ExecPrice returns the execution price reconstructed from ticks.
func (o *Order) ExecPrice() float64 { return float64(o.ExecPriceTick) * o.TickSize }

// Active reports whether the order is still working at the exchange.
func (o *Order) Active() bool {
	return o.Status == StatusNew || o.Status == StatusPartiallyFilled
}

// Cancellable reports whether a cancel request may be issued.
func (o *Order) Cancellable() bool {
	return o.Active() && o.Req == StatusNone
}

// Clone returns a copy of the order. The queue-position slot is shared; the
// receiving side never reads it.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// ————————————————————————————————————————————————————————————————————————
// Recorded market-data rows
// ————————————————————————————————————————————————————————————————————————

// Row is one recorded market-data event. ExchTS is when the event was
// observed at the matching engine, LocalTS when the strategy would have
// observed it. Ev is a bitmask built from the Event* constants below.
type Row struct {
	Ev      uint64
	ExchTS  int64
	LocalTS int64
	Px      float64
	Qty     float32
}

// Base event bits. Rows carry the composite values below; consumers test
// membership with ev&X == X.
const (
	EventLocal uint64 = 1 << 0 // row visible to the local processor
	EventExch  uint64 = 1 << 1 // row visible to the exchange processor

	eventDepth    uint64 = 1 << 2
	eventTrade    uint64 = 1 << 3
	eventBid      uint64 = 1 << 4
	eventAsk      uint64 = 1 << 5
	eventClear    uint64 = 1 << 6
	eventSnapshot uint64 = 1 << 7
	eventBuy      uint64 = 1 << 8
	eventSell     uint64 = 1 << 9
)

const (
	LocalBidDepthEvent         = EventLocal | eventDepth | eventBid
	LocalAskDepthEvent         = EventLocal | eventDepth | eventAsk
	LocalBidDepthClearEvent    = LocalBidDepthEvent | eventClear
	LocalAskDepthClearEvent    = LocalAskDepthEvent | eventClear
	LocalBidDepthSnapshotEvent = LocalBidDepthEvent | eventSnapshot
	LocalAskDepthSnapshotEvent = LocalAskDepthEvent | eventSnapshot
	LocalTradeEvent            = EventLocal | eventTrade

	ExchBidDepthEvent         = EventExch | eventDepth | eventBid
	ExchAskDepthEvent         = EventExch | eventDepth | eventAsk
	ExchBidDepthClearEvent    = ExchBidDepthEvent | eventClear
	ExchAskDepthClearEvent    = ExchAskDepthEvent | eventClear
	ExchBidDepthSnapshotEvent = ExchBidDepthEvent | eventSnapshot
	ExchAskDepthSnapshotEvent = ExchAskDepthEvent | eventSnapshot
	ExchBuyTradeEvent         = EventExch | eventTrade | eventBuy
	ExchSellTradeEvent        = EventExch | eventTrade | eventSell
)

// TimestampMax marks "no timestamp": empty buses, absent next events, and
// the no-wait value for response waits.
const TimestampMax int64 = math.MaxInt64

// ————————————————————————————————————————————————————————————————————————
// State values
// ————————————————————————————————————————————————————————————————————————

// StateValues is a snapshot of the cumulative trading state.
type StateValues struct {
	Position    float64 `json:"position"`
	Balance     float64 `json:"balance"`
	Fee         float64 `json:"fee"`
	TradeNum    int64   `json:"trade_num"`
	TradeQty    float64 `json:"trade_qty"`
	TradeAmount float64 `json:"trade_amount"`
}

// ————————————————————————————————————————————————————————————————————————
// Errors
// ————————————————————————————————————————————————————————————————————————

var (
	ErrOrderAlreadyExist     = errors.New("order already exists")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderRequestInProcess = errors.New("order request in process")
	ErrInvalidOrderRequest   = errors.New("invalid order request")
	ErrInvalidOrderStatus    = errors.New("invalid order status")
	ErrEndOfData             = errors.New("end of data")
)
