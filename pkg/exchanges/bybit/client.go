// Package bybit implements the Bybit v5 spot venue: header-signed REST and
// the public/private v5 websocket streams.
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"quantdesk/pkg/convert"
	"quantdesk/pkg/exchanges/common"
)

const (
	mainnetREST      = "https://api.bybit.com"
	testnetREST      = "https://api-testnet.bybit.com"
	mainnetPublicWS  = "wss://stream.bybit.com/v5/public/spot"
	testnetPublicWS  = "wss://stream-testnet.bybit.com/v5/public/spot"
	mainnetPrivateWS = "wss://stream.bybit.com/v5/private"
	testnetPrivateWS = "wss://stream-testnet.bybit.com/v5/private"

	recvWindow = "5000"
)

// Client talks to Bybit v5 spot.
type Client struct {
	creds      common.Credentials
	httpClient *http.Client
	limiter    *common.RateLimiter
	conv       convert.Bybit

	tickers *common.Stream[common.Ticker]
	klines  *common.Stream[common.Kline]
	orders  *common.Stream[common.Order]

	mu        sync.Mutex
	connected bool
	publicWS  *wsSession
	privateWS *wsSession
	subs      map[string]struct{}
}

// New creates a Bybit client. Credentials may be empty for public market data.
func New(creds common.Credentials) *Client {
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    common.NewRateLimiter(10, 20, 600, 5*time.Second),
		tickers:    common.NewStream[common.Ticker](256),
		klines:     common.NewStream[common.Kline](256),
		orders:     common.NewStream[common.Order](256),
		subs:       make(map[string]struct{}),
	}
}

// Name identifies the venue.
func (c *Client) Name() common.Name { return common.ExchangeBybit }

func (c *Client) baseURL() string {
	if c.creds.Testnet {
		return testnetREST
	}
	return mainnetREST
}

func (c *Client) publicWSURL() string {
	if c.creds.Testnet {
		return testnetPublicWS
	}
	return mainnetPublicWS
}

func (c *Client) privateWSURL() string {
	if c.creds.Testnet {
		return testnetPrivateWS
	}
	return mainnetPrivateWS
}

func (c *Client) requireKeys() error {
	if c.creds.APIKey == "" || c.creds.APISecret == "" {
		return errors.New("bybit: API key/secret required")
	}
	return nil
}

// envelope is the v5 response wrapper. retCode zero means success.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// doPublic performs an unauthenticated GET.
func (c *Client) doPublic(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.baseURL() + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(req, endpoint)
}

// doSigned signs timestamp + apiKey + recvWindow + payload with HMAC-SHA256,
// where payload is the query string for GET and the JSON body for POST. The
// signature travels in X-BAPI-SIGN alongside the key, timestamp and window
// headers.
func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values, body any) (json.RawMessage, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var payload string
	var req *http.Request
	var err error
	if method == http.MethodGet {
		payload = params.Encode()
		u := c.baseURL() + endpoint
		if payload != "" {
			u += "?" + payload
		}
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	} else {
		raw, merr := json.Marshal(body)
		if merr != nil {
			return nil, merr
		}
		payload = string(raw)
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL()+endpoint, bytes.NewReader(raw))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}

	sig := common.SignHex(timestamp+c.creds.APIKey+recvWindow+payload, c.creds.APISecret)
	req.Header.Set("X-BAPI-API-KEY", c.creds.APIKey)
	req.Header.Set("X-BAPI-SIGN", sig)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)

	return c.roundTrip(req, endpoint)
}

func (c *Client) roundTrip(req *http.Request, op string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bybit: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bybit: %s: read body: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &common.ExchangeError{
			Exchange: common.ExchangeBybit,
			Op:       op,
			Msg:      fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bybit: %s: decode envelope: %w", op, err)
	}
	if env.RetCode != 0 {
		return nil, &common.ExchangeError{
			Exchange: common.ExchangeBybit,
			Op:       op,
			Code:     strconv.Itoa(env.RetCode),
			Msg:      env.RetMsg,
		}
	}
	return env.Result, nil
}

// resultList pulls the list array out of a v5 result payload.
func resultList(result json.RawMessage, op string) ([]json.RawMessage, error) {
	var r struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(result, &r); err != nil {
		return nil, fmt.Errorf("bybit: %s: decode result: %w", op, err)
	}
	return r.List, nil
}

// GetTicker returns the 24h snapshot for a symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", c.conv.DenormalizeSymbol(symbol))
	result, err := c.doPublic(ctx, "/v5/market/tickers", params)
	if err != nil {
		return common.Ticker{}, err
	}
	list, err := resultList(result, "tickers")
	if err != nil {
		return common.Ticker{}, err
	}
	if len(list) == 0 {
		return common.Ticker{}, &common.ExchangeError{Exchange: common.ExchangeBybit, Op: "tickers", Msg: "empty result for " + symbol}
	}
	return c.conv.ParseTicker(list[0])
}

// GetKlines returns up to limit candles, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval common.Interval, limit int) ([]common.Kline, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", c.conv.DenormalizeSymbol(symbol))
	params.Set("interval", convert.BybitIntervalToken(interval))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	result, err := c.doPublic(ctx, "/v5/market/kline", params)
	if err != nil {
		return nil, err
	}
	var r struct {
		List [][]any `json:"list"`
	}
	if err := json.Unmarshal(result, &r); err != nil {
		return nil, fmt.Errorf("bybit: decode klines: %w", err)
	}
	// Bybit returns newest first; flip to chronological order.
	out := make([]common.Kline, 0, len(r.List))
	for i := len(r.List) - 1; i >= 0; i-- {
		k, err := c.conv.ParseKlineRow(r.List[i], symbol, interval)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// PlaceOrder submits an order and resolves the full canonical record.
// Conditional and OCO types need trigger parameters the spot v5 create
// endpoint does not take here, so they are refused instead of silently
// degrading to a plain market order.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if req.Type != common.OrderTypeMarket && req.Type != common.OrderTypeLimit {
		return common.Order{}, &common.ValidationError{Field: "type", Msg: "order type " + string(req.Type) + " is not supported on bybit"}
	}
	body := map[string]any{
		"category":  "spot",
		"symbol":    c.conv.DenormalizeSymbol(req.Symbol),
		"side":      titleSide(req.Side),
		"orderType": titleType(req.Type),
		"qty":       formatFloat(req.Qty),
	}
	if req.Price > 0 {
		body["price"] = formatFloat(req.Price)
	}
	if req.TimeInForce != "" {
		body["timeInForce"] = string(req.TimeInForce)
	}
	if req.ClientID != "" {
		body["orderLinkId"] = req.ClientID
	}

	result, err := c.doSigned(ctx, http.MethodPost, "/v5/order/create", nil, body)
	if err != nil {
		return common.Order{}, err
	}
	var ack struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(result, &ack); err != nil {
		return common.Order{}, fmt.Errorf("bybit: decode order ack: %w", err)
	}
	// The create ack only carries ids; fetch the live record for fill state.
	order, err := c.GetOrder(ctx, req.Symbol, ack.OrderID)
	if err != nil {
		return common.Order{
			ExchangeOrderID: ack.OrderID,
			ClientID:        req.ClientID,
			Exchange:        common.ExchangeBybit,
			Symbol:          common.NormalizeSymbol(req.Symbol),
			Side:            req.Side,
			Type:            req.Type,
			Price:           req.Price,
			Qty:             req.Qty,
			State:           common.StateOpen,
		}, nil
	}
	return order, nil
}

// CancelOrder cancels an open order by exchange order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	body := map[string]any{
		"category": "spot",
		"symbol":   c.conv.DenormalizeSymbol(symbol),
		"orderId":  exchangeOrderID,
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/v5/order/cancel", nil, body)
	return err
}

// GetOrder fetches one order, falling back to history once it leaves the
// realtime window.
func (c *Client) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (common.Order, error) {
	for _, endpoint := range []string{"/v5/order/realtime", "/v5/order/history"} {
		params := url.Values{}
		params.Set("category", "spot")
		params.Set("symbol", c.conv.DenormalizeSymbol(symbol))
		params.Set("orderId", exchangeOrderID)
		result, err := c.doSigned(ctx, http.MethodGet, endpoint, params, nil)
		if err != nil {
			return common.Order{}, err
		}
		list, err := resultList(result, endpoint)
		if err != nil {
			return common.Order{}, err
		}
		if len(list) > 0 {
			return c.conv.ParseOrder(list[0])
		}
	}
	return common.Order{}, &common.ExchangeError{
		Exchange: common.ExchangeBybit,
		Op:       "get order",
		Msg:      "order " + exchangeOrderID + " not found",
	}
}

// GetOpenOrders lists working orders, optionally filtered by symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	params.Set("category", "spot")
	if symbol != "" {
		params.Set("symbol", c.conv.DenormalizeSymbol(symbol))
	}
	result, err := c.doSigned(ctx, http.MethodGet, "/v5/order/realtime", params, nil)
	if err != nil {
		return nil, err
	}
	list, err := resultList(result, "open orders")
	if err != nil {
		return nil, err
	}
	out := make([]common.Order, 0, len(list))
	for _, raw := range list {
		o, err := c.conv.ParseOrder(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// GetBalance returns non-zero balances of the unified account.
func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	result, err := c.doSigned(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil)
	if err != nil {
		return nil, err
	}
	list, err := resultList(result, "wallet balance")
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return c.conv.ParseBalances(list[0])
}

// GetPositions returns nothing: spot exposure is tracked locally from fills.
func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	return nil, nil
}

// TickerStream returns an independent ticker subscription.
func (c *Client) TickerStream() (<-chan common.Ticker, func()) { return c.tickers.Subscribe() }

// KlineStream returns an independent kline subscription.
func (c *Client) KlineStream() (<-chan common.Kline, func()) { return c.klines.Subscribe() }

// OrderStream returns an independent order-update subscription.
func (c *Client) OrderStream() (<-chan common.Order, func()) { return c.orders.Subscribe() }

func titleSide(s common.Side) string {
	if s == common.SideSell {
		return "Sell"
	}
	return "Buy"
}

func titleType(t common.OrderType) string {
	if t == common.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
