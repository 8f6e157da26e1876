package binance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"quantdesk/pkg/exchanges/common"
)

var _ common.Exchange = (*Client)(nil)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(common.Credentials{APIKey: "test-key", APISecret: "test-secret"})
	c.restOverride = srv.URL
	return c
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	var gotKey, gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/order" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("X-MBX-APIKEY")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{
			"symbol": "BTCUSDT",
			"orderId": 12345,
			"clientOrderId": "cli-1",
			"transactTime": 1726000000000,
			"price": "0",
			"origQty": "0.5",
			"executedQty": "0.5",
			"cummulativeQuoteQty": "25000",
			"status": "FILLED",
			"type": "MARKET",
			"side": "BUY"
		}`))
	})

	c := testClient(t, handler)
	order, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		Qty:      0.5,
		ClientID: "cli-1",
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if gotKey != "test-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	payload, sig, ok := strings.Cut(gotBody, "&signature=")
	if !ok {
		t.Fatalf("no signature in body: %q", gotBody)
	}
	if want := common.SignHex(payload, "test-secret"); sig != want {
		t.Fatalf("signature = %s, want %s", sig, want)
	}
	params, err := url.ParseQuery(payload)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if params.Get("symbol") != "BTCUSDT" || params.Get("side") != "BUY" ||
		params.Get("quantity") != "0.5" || params.Get("newClientOrderId") != "cli-1" {
		t.Fatalf("payload = %q", payload)
	}
	if params.Get("timestamp") == "" || params.Get("recvWindow") != "5000" {
		t.Fatalf("missing timestamp/recvWindow in %q", payload)
	}

	if order.ExchangeOrderID != "12345" || order.State != common.StateFilled {
		t.Fatalf("order = %+v", order)
	}
	if order.AvgPrice != 50000 {
		t.Fatalf("avg price = %v, want 50000", order.AvgPrice)
	}
}

func TestPlaceOCORoutesToOCOEndpoint(t *testing.T) {
	var gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/order/oco" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{
			"orderListId": 99,
			"orderReports": [
				{
					"symbol": "BTCUSDT",
					"orderId": 200,
					"clientOrderId": "stop-leg",
					"transactTime": 1726000000000,
					"price": "47900",
					"origQty": "1",
					"executedQty": "0",
					"cummulativeQuoteQty": "0",
					"status": "NEW",
					"type": "STOP_LOSS_LIMIT",
					"side": "SELL"
				},
				{
					"symbol": "BTCUSDT",
					"orderId": 201,
					"clientOrderId": "limit-leg",
					"transactTime": 1726000000000,
					"price": "52000",
					"origQty": "1",
					"executedQty": "0",
					"cummulativeQuoteQty": "0",
					"status": "NEW",
					"type": "LIMIT_MAKER",
					"side": "SELL"
				}
			]
		}`))
	})

	c := testClient(t, handler)
	order, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      common.SideSell,
		Type:      common.OrderTypeOCO,
		Qty:       1,
		Price:     52000,
		StopPrice: 48000,
		ClientID:  "oco-1",
	})
	if err != nil {
		t.Fatalf("place oco: %v", err)
	}

	payload, _, ok := strings.Cut(gotBody, "&signature=")
	if !ok {
		t.Fatalf("no signature in body: %q", gotBody)
	}
	params, err := url.ParseQuery(payload)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if params.Get("price") != "52000" || params.Get("stopPrice") != "48000" ||
		params.Get("listClientOrderId") != "oco-1" {
		t.Fatalf("payload = %q", payload)
	}

	// The limit leg is the canonical record for the pair.
	if order.ExchangeOrderID != "201" || order.Type != common.OrderTypeOCO {
		t.Fatalf("order = %+v", order)
	}
	if order.ClientID != "oco-1" || order.StopPrice != 48000 {
		t.Fatalf("order = %+v", order)
	}
}

func TestAPIErrorMapsToExchangeError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": -1121, "msg": "Invalid symbol."}`))
	})

	c := testClient(t, handler)
	_, err := c.GetTicker(context.Background(), "NOPEUSDT")
	var xerr *common.ExchangeError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected ExchangeError, got %v", err)
	}
	if xerr.Code != "-1121" {
		t.Fatalf("code = %q, want -1121", xerr.Code)
	}
	if !strings.Contains(xerr.Msg, "Invalid symbol") {
		t.Fatalf("msg = %q", xerr.Msg)
	}
}

func TestGetTickerParsesRESTShape(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q", got)
		}
		w.Write([]byte(`{
			"symbol": "BTCUSDT",
			"lastPrice": "50000.5",
			"bidPrice": "50000.0",
			"askPrice": "50001.0",
			"highPrice": "51000",
			"lowPrice": "49000",
			"volume": "1234.5",
			"priceChangePercent": "1.25",
			"closeTime": 1726000000000
		}`))
	})

	c := testClient(t, handler)
	ticker, err := c.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if ticker.Symbol != "BTCUSDT" || ticker.LastPrice != 50000.5 {
		t.Fatalf("ticker = %+v", ticker)
	}
	if ticker.BidPrice != 50000 || ticker.AskPrice != 50001 {
		t.Fatalf("book = %v/%v", ticker.BidPrice, ticker.AskPrice)
	}
}
