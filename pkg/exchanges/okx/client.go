// Package okx implements the OKX v5 spot venue. Requests are signed over
// timestamp + method + path + body and identified by the OK-ACCESS-* header
// set, which includes the account passphrase.
package okx

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
	"strings"
	"sync"
	"time"

	"quantdesk/pkg/convert"
	"quantdesk/pkg/exchanges/common"
)

const (
	restBase     = "https://www.okx.com"
	publicWSURL  = "wss://ws.okx.com:8443/ws/v5/public"
	privateWSURL = "wss://ws.okx.com:8443/ws/v5/private"
)

// Client talks to OKX v5 spot.
type Client struct {
	creds      common.Credentials
	httpClient *http.Client
	limiter    *common.RateLimiter
	conv       convert.OKX

	tickers *common.Stream[common.Ticker]
	klines  *common.Stream[common.Kline]
	orders  *common.Stream[common.Order]

	mu        sync.Mutex
	connected bool
	publicWS  *wsSession
	privateWS *wsSession
	subs      []wsArg
}

// New creates an OKX client. Trading requires key, secret and passphrase.
func New(creds common.Credentials) *Client {
	return &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    common.NewRateLimiter(10, 20, 60, 2*time.Second),
		tickers:    common.NewStream[common.Ticker](256),
		klines:     common.NewStream[common.Kline](256),
		orders:     common.NewStream[common.Order](256),
	}
}

// Name identifies the venue.
func (c *Client) Name() common.Name { return common.ExchangeOKX }

func (c *Client) requireKeys() error {
	if c.creds.APIKey == "" || c.creds.APISecret == "" || c.creds.Passphrase == "" {
		return errors.New("okx: API key/secret/passphrase required")
	}
	return nil
}

// isoTimestamp formats the signing timestamp as ISO-8601 with milliseconds.
func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

type envelope struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg"`
	Data []json.RawMessage `json:"data"`
}

func (c *Client) doPublic(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := restBase + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(req, endpoint)
}

// doSigned signs timestamp + method + requestPath + body and sends the result
// with the OK-ACCESS-* headers. The request path includes the query string.
func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values, body any) ([]json.RawMessage, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	path := endpoint
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = raw
	}

	timestamp := isoTimestamp(time.Now())
	sig := common.SignHex(timestamp+method+path+string(payload), c.creds.APISecret)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, restBase+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sig)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)
	if c.creds.Testnet {
		req.Header.Set("x-simulated-trading", "1")
	}

	return c.roundTrip(req, endpoint)
}

func (c *Client) roundTrip(req *http.Request, op string) ([]json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("okx: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("okx: %s: read body: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &common.ExchangeError{
			Exchange: common.ExchangeOKX,
			Op:       op,
			Msg:      fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("okx: %s: decode envelope: %w", op, err)
	}
	if env.Code != "0" {
		msg := env.Msg
		// Order endpoints report per-item failures with a top-level success
		// code of "1"; surface the first item message when present.
		if msg == "" && len(env.Data) > 0 {
			var item struct {
				SCode string `json:"sCode"`
				SMsg  string `json:"sMsg"`
			}
			if json.Unmarshal(env.Data[0], &item) == nil && item.SMsg != "" {
				return nil, &common.ExchangeError{Exchange: common.ExchangeOKX, Op: op, Code: item.SCode, Msg: item.SMsg}
			}
		}
		return nil, &common.ExchangeError{Exchange: common.ExchangeOKX, Op: op, Code: env.Code, Msg: msg}
	}
	return env.Data, nil
}

// GetTicker returns the 24h snapshot for a symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("instId", c.conv.DenormalizeSymbol(symbol))
	data, err := c.doPublic(ctx, "/api/v5/market/ticker", params)
	if err != nil {
		return common.Ticker{}, err
	}
	if len(data) == 0 {
		return common.Ticker{}, &common.ExchangeError{Exchange: common.ExchangeOKX, Op: "ticker", Msg: "empty result for " + symbol}
	}
	return c.conv.ParseTicker(data[0])
}

// GetKlines returns up to limit candles, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval common.Interval, limit int) ([]common.Kline, error) {
	params := url.Values{}
	params.Set("instId", c.conv.DenormalizeSymbol(symbol))
	params.Set("bar", convert.OKXBarToken(interval))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	data, err := c.doPublic(ctx, "/api/v5/market/candles", params)
	if err != nil {
		return nil, err
	}
	// Rows arrive newest first; flip to chronological order.
	out := make([]common.Kline, 0, len(data))
	for i := len(data) - 1; i >= 0; i-- {
		var row []any
		if err := json.Unmarshal(data[i], &row); err != nil {
			return nil, fmt.Errorf("okx: decode candle row: %w", err)
		}
		k, err := c.conv.ParseKlineRow(row, symbol, interval)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// PlaceOrder submits a cash-mode spot order and resolves the full record.
// The trade/order endpoint only takes market and limit ordType values;
// trigger and OCO orders live on the algo endpoint and are refused here.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if req.Type != common.OrderTypeMarket && req.Type != common.OrderTypeLimit {
		return common.Order{}, &common.ValidationError{Field: "type", Msg: "order type " + string(req.Type) + " is not supported on okx"}
	}
	body := map[string]any{
		"instId":  c.conv.DenormalizeSymbol(req.Symbol),
		"tdMode":  "cash",
		"side":    strings.ToLower(string(req.Side)),
		"ordType": strings.ToLower(string(req.Type)),
		"sz":      formatFloat(req.Qty),
	}
	if req.Price > 0 {
		body["px"] = formatFloat(req.Price)
	}
	if req.ClientID != "" {
		body["clOrdId"] = req.ClientID
	}

	data, err := c.doSigned(ctx, http.MethodPost, "/api/v5/trade/order", nil, body)
	if err != nil {
		return common.Order{}, err
	}
	if len(data) == 0 {
		return common.Order{}, &common.ExchangeError{Exchange: common.ExchangeOKX, Op: "place order", Msg: "empty result"}
	}
	var ack struct {
		OrdID string `json:"ordId"`
	}
	if err := json.Unmarshal(data[0], &ack); err != nil {
		return common.Order{}, fmt.Errorf("okx: decode order ack: %w", err)
	}
	order, err := c.GetOrder(ctx, req.Symbol, ack.OrdID)
	if err != nil {
		return common.Order{
			ExchangeOrderID: ack.OrdID,
			ClientID:        req.ClientID,
			Exchange:        common.ExchangeOKX,
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
		"instId": c.conv.DenormalizeSymbol(symbol),
		"ordId":  exchangeOrderID,
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body)
	return err
}

// GetOrder fetches a single order.
func (c *Client) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (common.Order, error) {
	params := url.Values{}
	params.Set("instId", c.conv.DenormalizeSymbol(symbol))
	params.Set("ordId", exchangeOrderID)
	data, err := c.doSigned(ctx, http.MethodGet, "/api/v5/trade/order", params, nil)
	if err != nil {
		return common.Order{}, err
	}
	if len(data) == 0 {
		return common.Order{}, &common.ExchangeError{
			Exchange: common.ExchangeOKX,
			Op:       "get order",
			Msg:      "order " + exchangeOrderID + " not found",
		}
	}
	return c.conv.ParseOrder(data[0])
}

// GetOpenOrders lists pending spot orders, optionally filtered by symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	params.Set("instType", "SPOT")
	if symbol != "" {
		params.Set("instId", c.conv.DenormalizeSymbol(symbol))
	}
	data, err := c.doSigned(ctx, http.MethodGet, "/api/v5/trade/orders-pending", params, nil)
	if err != nil {
		return nil, err
	}
	out := make([]common.Order, 0, len(data))
	for _, raw := range data {
		o, err := c.conv.ParseOrder(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// GetBalance returns non-zero balances of the trading account.
func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	data, err := c.doSigned(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return c.conv.ParseBalances(data[0])
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
