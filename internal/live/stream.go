// stream.go implements the venue WebSocket feeds.
//
// Two independent feeds run concurrently:
//
//   - Market feed (public): depth diffs and aggregated trade prints for one
//     symbol, translated into the same event rows the simulator replays.
//
//   - User feed (authenticated via listen key): order lifecycle and fill
//     events carrying this process's client order ids.
//
// Both feeds auto-reconnect with exponential backoff (1s → 30s max); a read
// deadline detects silent server failures.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"hftsim/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	depthBufferSize  = 1024
	orderBufferSize  = 256
)

// OrderUpdate is one user-stream order event mapped onto the core record.
type OrderUpdate struct {
	Order    *types.Order
	ExecQty  float64
	ExecPx   float64
	RecvTime int64
}

// WSFeed manages one WebSocket connection and fans messages out to typed
// channels.
type WSFeed struct {
	url      string
	prefix   string
	tickSize float64

	depthCh chan types.Row
	tradeCh chan types.Row
	orderCh chan OrderUpdate

	logger *slog.Logger
}

// NewMarketFeed creates the public market-data feed for a symbol.
func NewMarketFeed(baseURL, symbol string, tickSize float64, logger *slog.Logger) *WSFeed {
	sym := strings.ToLower(symbol)
	return &WSFeed{
		url:      fmt.Sprintf("%s/stream?streams=%s@depth@100ms/%s@aggTrade", baseURL, sym, sym),
		tickSize: tickSize,
		depthCh:  make(chan types.Row, depthBufferSize),
		tradeCh:  make(chan types.Row, depthBufferSize),
		orderCh:  make(chan OrderUpdate, orderBufferSize),
		logger:   logger.With("component", "ws_market"),
	}
}

// NewUserFeed creates the authenticated user-data feed.
func NewUserFeed(baseURL, listenKey, orderPrefix string, tickSize float64, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:      baseURL + "/ws/" + listenKey,
		prefix:   orderPrefix,
		tickSize: tickSize,
		depthCh:  make(chan types.Row, depthBufferSize),
		tradeCh:  make(chan types.Row, depthBufferSize),
		orderCh:  make(chan OrderUpdate, orderBufferSize),
		logger:   logger.With("component", "ws_user"),
	}
}

// DepthEvents returns the depth update rows (market feed).
func (f *WSFeed) DepthEvents() <-chan types.Row { return f.depthCh }

// TradeEvents returns the trade print rows (market feed).
func (f *WSFeed) TradeEvents() <-chan types.Row { return f.tradeCh }

// OrderUpdates returns order lifecycle events (user feed).
func (f *WSFeed) OrderUpdates() <-chan OrderUpdate { return f.orderCh }

// Run connects and maintains the connection until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.dispatch(msg)
	}
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsEvent struct {
	Event  string          `json:"e"`
	Time   int64           `json:"E"`
	TxTime int64           `json:"T"`
	Bids   [][2]string     `json:"b"`
	Asks   [][2]string     `json:"a"`
	Price  decimal.Decimal `json:"p"`
	Qty    decimal.Decimal `json:"q"`
	Maker  bool            `json:"m"`
	Order  json.RawMessage `json:"o"`
}

type wsOrder struct {
	ClientOrderID string          `json:"c"`
	Side          string          `json:"S"`
	Type          string          `json:"o"`
	TIF           string          `json:"f"`
	Status        string          `json:"X"`
	Price         decimal.Decimal `json:"p"`
	OrigQty       decimal.Decimal `json:"q"`
	CumQty        decimal.Decimal `json:"z"`
	LastQty       decimal.Decimal `json:"l"`
	LastPrice     decimal.Decimal `json:"L"`
	AvgPrice      decimal.Decimal `json:"ap"`
	IsMaker       bool            `json:"m"`
	TradeTime     int64           `json:"T"`
}

func (f *WSFeed) dispatch(msg []byte) {
	var env streamEnvelope
	payload := msg
	if err := json.Unmarshal(msg, &env); err == nil && len(env.Data) > 0 {
		payload = env.Data
	}

	var ev wsEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.Warn("unparseable message", "error", err)
		return
	}
	recv := time.Now().UnixNano()

	switch ev.Event {
	case "depthUpdate":
		exchTS := ev.TxTime * int64(time.Millisecond)
		for _, lv := range ev.Bids {
			f.emitDepth(types.LocalBidDepthEvent, exchTS, recv, lv)
		}
		for _, lv := range ev.Asks {
			f.emitDepth(types.LocalAskDepthEvent, exchTS, recv, lv)
		}
	case "aggTrade":
		px, _ := ev.Price.Float64()
		qty, _ := ev.Qty.Float64()
		row := types.Row{
			Ev:      types.LocalTradeEvent,
			ExchTS:  ev.TxTime * int64(time.Millisecond),
			LocalTS: recv,
			Px:      px,
			Qty:     float32(qty),
		}
		select {
		case f.tradeCh <- row:
		default:
			f.logger.Warn("trade channel full, dropping print")
		}
	case "ORDER_TRADE_UPDATE":
		f.dispatchOrder(ev.Order, recv)
	}
}

func (f *WSFeed) emitDepth(ev uint64, exchTS, recvTS int64, level [2]string) {
	px, err := decimal.NewFromString(level[0])
	if err != nil {
		return
	}
	qty, err := decimal.NewFromString(level[1])
	if err != nil {
		return
	}
	pxF, _ := px.Float64()
	qtyF, _ := qty.Float64()
	row := types.Row{Ev: ev, ExchTS: exchTS, LocalTS: recvTS, Px: pxF, Qty: float32(qtyF)}
	select {
	case f.depthCh <- row:
	default:
		f.logger.Warn("depth channel full, dropping update")
	}
}

func (f *WSFeed) dispatchOrder(raw json.RawMessage, recvTS int64) {
	var wo wsOrder
	if err := json.Unmarshal(raw, &wo); err != nil {
		f.logger.Warn("unparseable order update", "error", err)
		return
	}
	orderID, ok := parseClientOrderID(f.prefix, wo.ClientOrderID)
	if !ok {
		return
	}

	price, _ := wo.Price.Float64()
	origQty, _ := wo.OrigQty.Float64()
	cumQty, _ := wo.CumQty.Float64()
	avgPrice, _ := wo.AvgPrice.Float64()
	lastQty, _ := wo.LastQty.Float64()
	lastPrice, _ := wo.LastPrice.Float64()

	order := types.NewOrder(orderID, priceTick(price, f.tickSize), f.tickSize, origQty, parseSide(wo.Side), parseOrdType(wo.Type), parseTIF(wo.TIF))
	order.Status = parseStatus(wo.Status)
	order.ExecQty = cumQty
	order.LeavesQty = origQty - cumQty
	order.ExecPriceTick = priceTick(avgPrice, f.tickSize)
	order.Maker = wo.IsMaker
	order.ExchTimestamp = wo.TradeTime * int64(time.Millisecond)

	update := OrderUpdate{Order: order, ExecQty: lastQty, ExecPx: lastPrice, RecvTime: recvTS}
	select {
	case f.orderCh <- update:
	default:
		f.logger.Warn("order channel full, dropping update", "order_id", orderID)
	}
}
