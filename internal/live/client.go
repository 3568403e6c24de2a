// client.go is the venue REST client for order management:
//
//   - SubmitOrder:    POST   /fapi/v1/order
//   - ModifyOrder:    PUT    /fapi/v1/order
//   - CancelOrder:    DELETE /fapi/v1/order
//   - CancelAll:      DELETE /fapi/v1/allOpenOrders
//   - OpenOrders:     GET    /fapi/v1/openOrders   — crash recovery
//   - Position:       GET    /fapi/v2/positionRisk
//   - GetDepth:       GET    /fapi/v1/depth        — book snapshot
//   - StartStream /   POST, PUT /fapi/v1/listenKey — user-data stream session
//     KeepAliveStream
//
// Every request carries recvWindow, a millisecond timestamp, and an
// HMAC-SHA256 signature over the query string; order, cancel and query
// requests are rate limited via per-category token buckets (the listen-key
// calls are not), and all requests are retried on transport errors and 5xx.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"hftsim/internal/config"
	"hftsim/pkg/types"
)

// Client is the venue REST API client.
type Client struct {
	http   *resty.Client
	cfg    config.LiveConfig
	rl     *RateLimiter
	logger *slog.Logger
}

// OrderResponse is the venue's order state report. Numeric fields arrive as
// decimal strings and stay decimal until the edge of the core.
type OrderResponse struct {
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Status        string          `json:"status"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	TimeInForce   string          `json:"timeInForce"`
	Type          string          `json:"type"`
	UpdateTime    int64           `json:"updateTime"`
	Code          int64           `json:"code"`
	Msg           string          `json:"msg"`
}

// DepthResponse is a book snapshot; levels are [price, qty] string pairs.
type DepthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// PositionResponse reports the venue-side position for one symbol.
type PositionResponse struct {
	Symbol      string          `json:"symbol"`
	PositionAmt decimal.Decimal `json:"positionAmt"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.LiveConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "rest"),
	}
}

func (c *Client) signedQuery(query string) string {
	ts := time.Now().UnixMilli()
	if query != "" {
		query += "&"
	}
	query += fmt.Sprintf("recvWindow=%d&timestamp=%d", c.cfg.RecvWindow.Milliseconds(), ts)
	return query + "&signature=" + sign(c.cfg.Secret, query)
}

func (c *Client) do(ctx context.Context, method, path, query string, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.cfg.APIKey)
	if out != nil {
		req.SetResult(out)
	}

	url := path
	if q := c.signedQuery(query); q != "" {
		url += "?" + q
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) formatPrice(price float64) string {
	return decimal.NewFromFloat(price).Round(c.cfg.PricePrecision).String()
}

func (c *Client) formatQty(qty float64) string {
	return decimal.NewFromFloat(qty).Round(c.cfg.QtyPrecision).String()
}

// SubmitOrder places one order keyed by the core order id.
func (c *Client) SubmitOrder(
	ctx context.Context,
	symbol string,
	orderID int64,
	side types.Side,
	price, qty float64,
	typ types.OrdType,
	tif types.TimeInForce,
) (*OrderResponse, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"newClientOrderId=%s&symbol=%s&side=%s&price=%s&quantity=%s&type=%s&timeInForce=%s",
		clientOrderID(c.cfg.OrderPrefix, orderID), symbol, side, c.formatPrice(price),
		c.formatQty(qty), typ, tif,
	)
	var out OrderResponse
	if err := c.do(ctx, resty.MethodPost, "/fapi/v1/order", query, &out); err != nil {
		return nil, err
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("submit order %d: venue error %d: %s", orderID, out.Code, out.Msg)
	}
	return &out, nil
}

// ModifyOrder reprices and resizes a working order.
func (c *Client) ModifyOrder(
	ctx context.Context,
	symbol string,
	orderID int64,
	side types.Side,
	price, qty float64,
) (*OrderResponse, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"origClientOrderId=%s&symbol=%s&side=%s&price=%s&quantity=%s",
		clientOrderID(c.cfg.OrderPrefix, orderID), symbol, side, c.formatPrice(price), c.formatQty(qty),
	)
	var out OrderResponse
	if err := c.do(ctx, resty.MethodPut, "/fapi/v1/order", query, &out); err != nil {
		return nil, err
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("modify order %d: venue error %d: %s", orderID, out.Code, out.Msg)
	}
	return &out, nil
}

// CancelOrder cancels a working order by its core id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error) {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"origClientOrderId=%s&symbol=%s",
		clientOrderID(c.cfg.OrderPrefix, orderID), symbol,
	)
	var out OrderResponse
	if err := c.do(ctx, resty.MethodDelete, "/fapi/v1/order", query, &out); err != nil {
		return nil, err
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("cancel order %d: venue error %d: %s", orderID, out.Code, out.Msg)
	}
	return &out, nil
}

// CancelAll cancels every open order on the symbol; the shutdown safety net.
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	return c.do(ctx, resty.MethodDelete, "/fapi/v1/allOpenOrders", "symbol="+symbol, nil)
}

// OpenOrders fetches working orders and maps the ones carrying this
// process's prefix back onto core orders; used to recover after a restart.
func (c *Client) OpenOrders(ctx context.Context, symbol string, tickSize float64) ([]*types.Order, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}
	var resp []OrderResponse
	if err := c.do(ctx, resty.MethodGet, "/fapi/v1/openOrders", "symbol="+symbol, &resp); err != nil {
		return nil, err
	}

	orders := make([]*types.Order, 0, len(resp))
	for _, r := range resp {
		orderID, ok := parseClientOrderID(c.cfg.OrderPrefix, r.ClientOrderID)
		if !ok {
			continue
		}
		orders = append(orders, responseToOrder(orderID, &r, tickSize))
	}
	return orders, nil
}

// Position fetches the venue-side signed position for the symbol.
func (c *Client) Position(ctx context.Context, symbol string) (float64, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return 0, err
	}
	var resp []PositionResponse
	if err := c.do(ctx, resty.MethodGet, "/fapi/v2/positionRisk", "symbol="+symbol, &resp); err != nil {
		return 0, err
	}
	for _, p := range resp {
		if p.Symbol == symbol {
			amt, _ := p.PositionAmt.Float64()
			return amt, nil
		}
	}
	return 0, nil
}

// GetDepth fetches a book snapshot.
func (c *Client) GetDepth(ctx context.Context, symbol string) (*DepthResponse, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}
	var out DepthResponse
	if err := c.do(ctx, resty.MethodGet, "/fapi/v1/depth", "symbol="+symbol+"&limit=1000", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartStream opens a user-data stream session and returns its listen key.
func (c *Client) StartStream(ctx context.Context) (string, error) {
	var out listenKeyResponse
	if err := c.do(ctx, resty.MethodPost, "/fapi/v1/listenKey", "", &out); err != nil {
		return "", err
	}
	return out.ListenKey, nil
}

// KeepAliveStream extends the user-data stream session.
func (c *Client) KeepAliveStream(ctx context.Context) error {
	return c.do(ctx, resty.MethodPut, "/fapi/v1/listenKey", "", nil)
}

// responseToOrder converts a venue order report into the core record.
func responseToOrder(orderID int64, r *OrderResponse, tickSize float64) *types.Order {
	price, _ := r.Price.Float64()
	origQty, _ := r.OrigQty.Float64()
	execQty, _ := r.ExecutedQty.Float64()
	avgPrice, _ := r.AvgPrice.Float64()

	order := types.NewOrder(orderID, priceTick(price, tickSize), tickSize, origQty, parseSide(r.Side), parseOrdType(r.Type), parseTIF(r.TimeInForce))
	order.ExecQty = execQty
	order.LeavesQty = origQty - execQty
	order.ExecPriceTick = priceTick(avgPrice, tickSize)
	order.Status = parseStatus(r.Status)
	order.ExchTimestamp = r.UpdateTime * int64(time.Millisecond)
	return order
}

func priceTick(price, tickSize float64) int {
	if price >= 0 {
		return int(price/tickSize + 0.5)
	}
	return int(price/tickSize - 0.5)
}

func parseSide(s string) types.Side {
	if s == "SELL" {
		return types.Sell
	}
	return types.Buy
}

func parseOrdType(s string) types.OrdType {
	if s == "MARKET" {
		return types.Market
	}
	return types.Limit
}

func parseTIF(s string) types.TimeInForce {
	switch s {
	case "GTX":
		return types.GTX
	case "IOC":
		return types.IOC
	case "FOK":
		return types.FOK
	}
	return types.GTC
}

func parseStatus(s string) types.Status {
	switch s {
	case "NEW":
		return types.StatusNew
	case "FILLED":
		return types.StatusFilled
	case "PARTIALLY_FILLED":
		return types.StatusPartiallyFilled
	case "CANCELED":
		return types.StatusCanceled
	case "EXPIRED":
		return types.StatusExpired
	}
	return types.StatusNone
}
