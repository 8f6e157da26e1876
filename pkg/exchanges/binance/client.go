// Package binance implements the Binance spot venue: signed REST endpoints,
// public market-data websocket and the listen-key user data stream.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"quantdesk/pkg/convert"
	"quantdesk/pkg/exchanges/common"
)

const (
	mainnetREST = "https://api.binance.com"
	testnetREST = "https://testnet.binance.vision"
	mainnetWS   = "wss://stream.binance.com:9443/ws"
	testnetWS   = "wss://testnet.binance.vision/ws"
)

// Client talks to Binance spot.
type Client struct {
	creds      common.Credentials
	recvWindow int64
	httpClient *http.Client
	limiter    *common.RateLimiter
	timeSync   *common.TimeSync
	conv       convert.Binance

	tickers *common.Stream[common.Ticker]
	klines  *common.Stream[common.Kline]
	orders  *common.Stream[common.Order]

	mu        sync.Mutex
	connected bool
	marketWS  *wsSession
	userWS    *wsSession
	listenKey string
	subs      map[string]struct{} // active stream names, for resubscribe

	restOverride string // tests point this at a local server
}

// New creates a Binance spot client. Credentials may be empty for public
// market data; signed calls then fail fast.
func New(creds common.Credentials) *Client {
	c := &Client{
		creds:      creds,
		recvWindow: 5000,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    common.NewRateLimiter(10, 20, 1200, time.Minute),
		tickers:    common.NewStream[common.Ticker](256),
		klines:     common.NewStream[common.Kline](256),
		orders:     common.NewStream[common.Order](256),
		subs:       make(map[string]struct{}),
	}
	c.timeSync = common.NewTimeSync(c.serverTime)
	return c
}

// Name identifies the venue.
func (c *Client) Name() common.Name { return common.ExchangeBinance }

func (c *Client) baseURL() string {
	if c.restOverride != "" {
		return c.restOverride
	}
	if c.creds.Testnet {
		return testnetREST
	}
	return mainnetREST
}

func (c *Client) wsURL() string {
	if c.creds.Testnet {
		return testnetWS
	}
	return mainnetWS
}

func (c *Client) requireKeys() error {
	if c.creds.APIKey == "" || c.creds.APISecret == "" {
		return errors.New("binance: API key/secret required")
	}
	return nil
}

// serverTime fetches the venue clock for timestamp signing.
func (c *Client) serverTime(ctx context.Context) (int64, error) {
	body, _, err := c.doPublic(ctx, http.MethodGet, "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("binance: decode server time: %w", err)
	}
	return resp.ServerTime, nil
}

// doPublic performs an unauthenticated request.
func (c *Client) doPublic(ctx context.Context, method, endpoint string, params url.Values) ([]byte, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	u := c.baseURL() + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, nil, err
	}
	return c.roundTrip(req, endpoint)
}

// doSigned signs the query with HMAC-SHA256 over the encoded parameters and
// sends it with the API key header. GET/DELETE carry everything in the query
// string; POST uses a form body, same signature scheme.
func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.timeSync.Now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	payload := params.Encode()
	payload += "&signature=" + common.SignHex(payload, c.creds.APISecret)

	var req *http.Request
	var err error
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL()+endpoint+"?"+payload, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL()+endpoint, strings.NewReader(payload))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)

	body, _, err := c.roundTrip(req, endpoint)
	return body, err
}

func (c *Client) roundTrip(req *http.Request, op string) ([]byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("binance: %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("binance: %s: read body: %w", op, err)
	}
	c.limiter.UpdateFromHeader(resp.Header.Get("X-MBX-USED-WEIGHT-1M"))

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return nil, nil, &common.ExchangeError{
			Exchange: common.ExchangeBinance,
			Op:       op,
			Code:     strconv.Itoa(apiErr.Code),
			Msg:      fmt.Sprintf("HTTP %d: %s", resp.StatusCode, apiErr.Msg),
		}
	}
	return body, resp.Header, nil
}

// GetTicker returns the 24h snapshot for a symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", c.conv.DenormalizeSymbol(symbol))
	body, _, err := c.doPublic(ctx, http.MethodGet, "/api/v3/ticker/24hr", params)
	if err != nil {
		return common.Ticker{}, err
	}
	return c.conv.ParseTicker(body)
}

// GetKlines returns up to limit most recent candles.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval common.Interval, limit int) ([]common.Kline, error) {
	params := url.Values{}
	params.Set("symbol", c.conv.DenormalizeSymbol(symbol))
	params.Set("interval", string(interval))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, _, err := c.doPublic(ctx, http.MethodGet, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}
	out := make([]common.Kline, 0, len(rows))
	for _, row := range rows {
		k, err := c.conv.ParseKlineRow(row, symbol, interval)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// PlaceOrder submits an order and returns the canonical ack.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if req.Type == common.OrderTypeOCO {
		return c.placeOCO(ctx, req)
	}
	params := url.Values{}
	params.Set("symbol", c.conv.DenormalizeSymbol(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", formatFloat(req.Qty))
	if req.Price > 0 {
		params.Set("price", formatFloat(req.Price))
	}
	if req.StopPrice > 0 {
		params.Set("stopPrice", formatFloat(req.StopPrice))
	}
	if req.Type == common.OrderTypeLimit {
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	params.Set("newOrderRespType", "RESULT")

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.Order{}, err
	}
	return c.conv.ParseOrder(body)
}

// placeOCO submits a one-cancels-the-other pair: a limit leg at Price and
// a stop leg at StopPrice. The limit leg's report is returned as the
// canonical record.
func (c *Client) placeOCO(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	params := url.Values{}
	params.Set("symbol", c.conv.DenormalizeSymbol(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("quantity", formatFloat(req.Qty))
	params.Set("price", formatFloat(req.Price))
	params.Set("stopPrice", formatFloat(req.StopPrice))
	if req.ClientID != "" {
		params.Set("listClientOrderId", req.ClientID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order/oco", params)
	if err != nil {
		return common.Order{}, err
	}
	var ack struct {
		OrderReports []json.RawMessage `json:"orderReports"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return common.Order{}, fmt.Errorf("binance: decode oco ack: %w", err)
	}
	if len(ack.OrderReports) == 0 {
		return common.Order{}, &common.ExchangeError{Exchange: common.ExchangeBinance, Op: "place oco", Msg: "ack carries no order reports"}
	}
	// The limit leg is reported last.
	order, err := c.conv.ParseOrder(ack.OrderReports[len(ack.OrderReports)-1])
	if err != nil {
		return common.Order{}, err
	}
	order.Type = common.OrderTypeOCO
	order.ClientID = req.ClientID
	order.StopPrice = req.StopPrice
	return order, nil
}

// CancelOrder cancels an open order by exchange order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("symbol", c.conv.DenormalizeSymbol(symbol))
	params.Set("orderId", exchangeOrderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params)
	return err
}

// GetOrder fetches a single order.
func (c *Client) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (common.Order, error) {
	params := url.Values{}
	params.Set("symbol", c.conv.DenormalizeSymbol(symbol))
	params.Set("orderId", exchangeOrderID)
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return common.Order{}, err
	}
	return c.conv.ParseOrder(body)
}

// GetOpenOrders lists working orders, optionally filtered by symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", c.conv.DenormalizeSymbol(symbol))
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode open orders: %w", err)
	}
	out := make([]common.Order, 0, len(rows))
	for _, row := range rows {
		o, err := c.conv.ParseOrder(row)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// GetBalance returns non-zero asset balances.
func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", nil)
	if err != nil {
		return nil, err
	}
	return c.conv.ParseBalances(body)
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

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
