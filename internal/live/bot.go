// bot.go adapts the live venue to the same Trader contract the simulator
// exposes, so a strategy runs unchanged against recorded data or production.
//
// The bot is single-threaded from the strategy's point of view: the feeds
// only write to buffered channels, and every event is applied to the depth
// mirror, the order map, and the account state inside Elapse /
// WaitOrderResponse on the strategy's goroutine.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hftsim/internal/backtest"
	"hftsim/internal/config"
	"hftsim/internal/depth"
	"hftsim/pkg/types"
)

// Bot drives a live venue through the Trader contract.
type Bot struct {
	asset config.AssetConfig
	cfg   config.LiveConfig

	client *Client
	market *WSFeed
	user   *WSFeed

	depth  depth.MarketDepth
	state  *backtest.State
	orders map[int64]*types.Order

	trades   []types.Row
	tradeCap int

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewBot creates a live bot; Start must be called before trading.
func NewBot(
	asset config.AssetConfig,
	cfg config.LiveConfig,
	md depth.MarketDepth,
	state *backtest.State,
	tradeCap int,
	logger *slog.Logger,
) *Bot {
	return &Bot{
		asset:    asset,
		cfg:      cfg,
		client:   NewClient(cfg, logger),
		depth:    md,
		state:    state,
		orders:   make(map[int64]*types.Order),
		tradeCap: tradeCap,
		logger:   logger.With("component", "bot"),
	}
}

// Start opens the stream session, launches the feeds, loads a depth
// snapshot, and recovers any open orders left by a previous run.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	listenKey, err := b.client.StartStream(b.ctx)
	if err != nil {
		return fmt.Errorf("start user stream: %w", err)
	}

	b.market = NewMarketFeed(b.cfg.StreamURL, b.asset.Symbol, b.asset.TickSize, b.logger)
	b.user = NewUserFeed(b.cfg.StreamURL, listenKey, b.cfg.OrderPrefix, b.asset.TickSize, b.logger)

	go func() {
		if err := b.market.Run(b.ctx); err != nil && b.ctx.Err() == nil {
			b.logger.Error("market feed error", "error", err)
		}
	}()
	go func() {
		if err := b.user.Run(b.ctx); err != nil && b.ctx.Err() == nil {
			b.logger.Error("user feed error", "error", err)
		}
	}()
	go b.keepAlive()

	snapshot, err := b.client.GetDepth(b.ctx, b.asset.Symbol)
	if err != nil {
		return fmt.Errorf("depth snapshot: %w", err)
	}
	now := time.Now().UnixNano()
	for _, lv := range snapshot.Bids {
		b.applyDepthLevel(types.LocalBidDepthSnapshotEvent, now, lv)
	}
	for _, lv := range snapshot.Asks {
		b.applyDepthLevel(types.LocalAskDepthSnapshotEvent, now, lv)
	}

	open, err := b.client.OpenOrders(b.ctx, b.asset.Symbol, b.asset.TickSize)
	if err != nil {
		return fmt.Errorf("recover open orders: %w", err)
	}
	for _, order := range open {
		b.orders[order.OrderID] = order
	}
	if len(open) > 0 {
		b.logger.Info("recovered open orders", "count", len(open))
	}
	return nil
}

func (b *Bot) keepAlive() {
	ticker := time.NewTicker(b.cfg.KeepAlivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if err := b.client.KeepAliveStream(b.ctx); err != nil {
				b.logger.Error("stream keepalive failed", "error", err)
			}
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Trader contract
// ————————————————————————————————————————————————————————————————————————

func (b *Bot) CurrentTimestamp() int64 { return time.Now().UnixNano() }

func (b *Bot) Depth() depth.MarketDepth { return b.depth }

func (b *Bot) Position() float64 { return b.state.Position }

func (b *Bot) StateValues() types.StateValues { return b.state.Values() }

func (b *Bot) Orders() map[int64]*types.Order { return b.orders }

func (b *Bot) Trades() []types.Row { return b.trades }

func (b *Bot) ClearLastTrades() { b.trades = b.trades[:0] }

func (b *Bot) ClearInactiveOrders() {
	for id, order := range b.orders {
		if order.Status.Terminal() {
			delete(b.orders, id)
		}
	}
}

func (b *Bot) SubmitBuyOrder(orderID int64, price, qty float64, tif types.TimeInForce, typ types.OrdType, wait bool) (bool, error) {
	return b.submit(orderID, types.Buy, price, qty, tif, typ, wait)
}

func (b *Bot) SubmitSellOrder(orderID int64, price, qty float64, tif types.TimeInForce, typ types.OrdType, wait bool) (bool, error) {
	return b.submit(orderID, types.Sell, price, qty, tif, typ, wait)
}

func (b *Bot) submit(orderID int64, side types.Side, price, qty float64, tif types.TimeInForce, typ types.OrdType, wait bool) (bool, error) {
	if _, ok := b.orders[orderID]; ok {
		return true, types.ErrOrderAlreadyExist
	}

	order := types.NewOrder(orderID, priceTick(price, b.asset.TickSize), b.asset.TickSize, qty, side, typ, tif)
	order.Status = types.StatusNew
	order.Req = types.StatusNew
	order.LocalTimestamp = time.Now().UnixNano()
	b.orders[orderID] = order

	if _, err := b.client.SubmitOrder(b.ctx, b.asset.Symbol, orderID, side, price, qty, typ, tif); err != nil {
		delete(b.orders, orderID)
		return true, err
	}
	if wait {
		return b.WaitOrderResponse(orderID)
	}
	return true, nil
}

func (b *Bot) ModifyOrder(orderID int64, price, qty float64, wait bool) (bool, error) {
	order, ok := b.orders[orderID]
	if !ok {
		return true, types.ErrOrderNotFound
	}
	if order.Req != types.StatusNone {
		return true, types.ErrOrderRequestInProcess
	}
	order.Req = types.StatusModified
	if _, err := b.client.ModifyOrder(b.ctx, b.asset.Symbol, orderID, order.Side, price, qty); err != nil {
		order.Req = types.StatusNone
		return true, err
	}
	if wait {
		return b.WaitOrderResponse(orderID)
	}
	return true, nil
}

func (b *Bot) Cancel(orderID int64, wait bool) (bool, error) {
	order, ok := b.orders[orderID]
	if !ok {
		return true, types.ErrOrderNotFound
	}
	if order.Req != types.StatusNone {
		return true, types.ErrOrderRequestInProcess
	}
	order.Req = types.StatusCanceled
	if _, err := b.client.CancelOrder(b.ctx, b.asset.Symbol, orderID); err != nil {
		order.Req = types.StatusNone
		return true, err
	}
	if wait {
		return b.WaitOrderResponse(orderID)
	}
	return true, nil
}

// WaitOrderResponse blocks until a stream update for the order arrives or
// the receive window elapses; other events keep being applied meanwhile.
func (b *Bot) WaitOrderResponse(orderID int64) (bool, error) {
	deadline := time.NewTimer(b.cfg.RecvWindow)
	defer deadline.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return false, nil
		case row := <-b.market.DepthEvents():
			b.applyDepthRow(row)
		case row := <-b.market.TradeEvents():
			b.applyTradeRow(row)
		case up := <-b.user.OrderUpdates():
			b.applyOrderUpdate(up)
			if up.Order.OrderID == orderID {
				return true, nil
			}
		case <-deadline.C:
			return true, fmt.Errorf("order %d: %w", orderID, errResponseTimeout)
		}
	}
}

var errResponseTimeout = errors.New("no response within receive window")

// Elapse applies stream events for the given wall-clock duration.
func (b *Bot) Elapse(duration int64) (bool, error) {
	deadline := time.NewTimer(time.Duration(duration))
	defer deadline.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return false, nil
		case row := <-b.market.DepthEvents():
			b.applyDepthRow(row)
		case row := <-b.market.TradeEvents():
			b.applyTradeRow(row)
		case up := <-b.user.OrderUpdates():
			b.applyOrderUpdate(up)
		case <-deadline.C:
			return true, nil
		}
	}
}

// ElapseBt burns backtest time only; a no-op against a live venue.
func (b *Bot) ElapseBt(int64) (bool, error) { return true, nil }

// Close cancels all working orders and stops the feeds.
func (b *Bot) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.client.CancelAll(ctx, b.asset.Symbol); err != nil {
		b.logger.Error("cancel-all on close failed", "error", err)
	}
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Event application
// ————————————————————————————————————————————————————————————————————————

func (b *Bot) applyDepthRow(row types.Row) {
	if row.Ev&types.LocalBidDepthEvent == types.LocalBidDepthEvent {
		b.depth.UpdateBidDepth(row.Px, float64(row.Qty), row.LocalTS)
	} else if row.Ev&types.LocalAskDepthEvent == types.LocalAskDepthEvent {
		b.depth.UpdateAskDepth(row.Px, float64(row.Qty), row.LocalTS)
	}
}

func (b *Bot) applyDepthLevel(ev uint64, ts int64, level [2]string) {
	row := types.Row{Ev: ev, ExchTS: ts, LocalTS: ts}
	if _, err := fmt.Sscanf(level[0], "%g", &row.Px); err != nil {
		return
	}
	if _, err := fmt.Sscanf(level[1], "%g", &row.Qty); err != nil {
		return
	}
	b.applyDepthRow(row)
}

func (b *Bot) applyTradeRow(row types.Row) {
	if b.tradeCap <= 0 {
		return
	}
	if len(b.trades) == b.tradeCap {
		copy(b.trades, b.trades[1:])
		b.trades = b.trades[:b.tradeCap-1]
	}
	b.trades = append(b.trades, row)
}

func (b *Bot) applyOrderUpdate(up OrderUpdate) {
	order := up.Order
	if up.ExecQty > 0 && (order.Status == types.StatusFilled || order.Status == types.StatusPartiallyFilled) {
		fill := order.Clone()
		fill.ExecQty = up.ExecQty
		fill.ExecPriceTick = priceTick(up.ExecPx, b.asset.TickSize)
		b.state.ApplyFill(fill)
	}
	b.orders[order.OrderID] = order
}
