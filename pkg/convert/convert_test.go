package convert

import (
	"encoding/json"
	"errors"
	"testing"

	"quantdesk/pkg/exchanges/common"
)

func TestNormalizeTimestamp(t *testing.T) {
	cases := []struct {
		name string
		in   int64
		want int64
	}{
		{"seconds", 1700000000, 1700000000000},
		{"milliseconds", 1700000000000, 1700000000000},
		{"zero", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeTimestamp(tc.in); got != tc.want {
				t.Fatalf("NormalizeTimestamp(%d) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestBinanceParseTickerStream(t *testing.T) {
	raw := json.RawMessage(`{
		"e":"24hrTicker","E":1700000000123,"s":"BTCUSDT",
		"c":"50000.5","b":"49999","a":"50001","h":"51000","l":"49000",
		"v":"1234.5","P":"2.5"
	}`)
	tk, err := Binance{}.ParseTicker(raw)
	if err != nil {
		t.Fatalf("ParseTicker: %v", err)
	}
	if tk.Symbol != "BTCUSDT" || tk.LastPrice != 50000.5 || tk.PriceChangePct24h != 2.5 {
		t.Fatalf("unexpected ticker: %+v", tk)
	}
	if tk.Timestamp != 1700000000123 {
		t.Fatalf("timestamp = %d", tk.Timestamp)
	}
}

func TestBinanceParseTickerMissingField(t *testing.T) {
	raw := json.RawMessage(`{"e":"24hrTicker","E":1,"s":"BTCUSDT"}`)
	_, err := Binance{}.ParseTicker(raw)
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("want ConversionError, got %v", err)
	}
	if convErr.Field != "c" {
		t.Fatalf("field = %q, want %q", convErr.Field, "c")
	}
}

func TestBinanceParseTickerInvalidValue(t *testing.T) {
	raw := json.RawMessage(`{"e":"24hrTicker","E":1,"s":"BTCUSDT","c":"not-a-number"}`)
	_, err := Binance{}.ParseTicker(raw)
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("want ConversionError, got %v", err)
	}
	if convErr.Field != "c" || convErr.Value != "not-a-number" {
		t.Fatalf("unexpected error detail: %+v", convErr)
	}
}

func TestBinanceParseExecutionReport(t *testing.T) {
	raw := json.RawMessage(`{
		"e":"executionReport","E":1700000000000,"s":"ETHUSDT",
		"c":"client-1","S":"BUY","o":"LIMIT","q":"2","p":"3000",
		"X":"PARTIALLY_FILLED","i":12345,"z":"1","Z":"3000","n":"0.1"
	}`)
	o, err := Binance{}.ParseOrder(raw)
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}
	if o.ExchangeOrderID != "12345" || o.State != common.StatePartiallyFilled {
		t.Fatalf("unexpected order: %+v", o)
	}
	if o.AvgPrice != 3000 {
		t.Fatalf("avg price = %v", o.AvgPrice)
	}
}

func TestBinanceParseKlineRow(t *testing.T) {
	row := []any{float64(1700000000000), "100", "110", "90", "105", "42.5", float64(1700000059999)}
	k, err := Binance{}.ParseKlineRow(row, "btcusdt", common.Interval1m)
	if err != nil {
		t.Fatalf("ParseKlineRow: %v", err)
	}
	if k.Symbol != "BTCUSDT" || k.Open != 100 || k.Close != 105 || !k.Closed {
		t.Fatalf("unexpected kline: %+v", k)
	}
}

func TestBinanceOrderState(t *testing.T) {
	cases := []struct {
		in   string
		want common.OrderState
	}{
		{"NEW", common.StateOpen},
		{"PARTIALLY_FILLED", common.StatePartiallyFilled},
		{"FILLED", common.StateFilled},
		{"CANCELED", common.StateCanceled},
		{"EXPIRED", common.StateCanceled},
		{"REJECTED", common.StateRejected},
		{"PENDING_NEW", common.StatePending},
	}
	for _, tc := range cases {
		if got := BinanceOrderState(tc.in); got != tc.want {
			t.Fatalf("BinanceOrderState(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBybitParseTicker(t *testing.T) {
	raw := json.RawMessage(`{
		"symbol":"BTCUSDT","lastPrice":"50000","bid1Price":"49999",
		"ask1Price":"50001","highPrice24h":"51000","lowPrice24h":"49000",
		"volume24h":"1000","price24hPcnt":"0.015","time":1700000000000
	}`)
	tk, err := Bybit{}.ParseTicker(raw)
	if err != nil {
		t.Fatalf("ParseTicker: %v", err)
	}
	if tk.LastPrice != 50000 || tk.PriceChangePct24h != 1.5 {
		t.Fatalf("unexpected ticker: %+v", tk)
	}
}

func TestBybitOrderState(t *testing.T) {
	cases := []struct {
		in   string
		want common.OrderState
	}{
		{"New", common.StateOpen},
		{"PartiallyFilled", common.StatePartiallyFilled},
		{"Filled", common.StateFilled},
		{"Cancelled", common.StateCanceled},
		{"Rejected", common.StateRejected},
		{"Created", common.StatePending},
	}
	for _, tc := range cases {
		if got := BybitOrderState(tc.in); got != tc.want {
			t.Fatalf("BybitOrderState(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBybitIntervalTokens(t *testing.T) {
	cases := []struct {
		interval common.Interval
		token    string
	}{
		{common.Interval1m, "1"},
		{common.Interval5m, "5"},
		{common.Interval15m, "15"},
		{common.Interval30m, "30"},
		{common.Interval1h, "60"},
		{common.Interval4h, "240"},
		{common.Interval1d, "D"},
	}
	for _, tc := range cases {
		if got := BybitIntervalToken(tc.interval); got != tc.token {
			t.Fatalf("BybitIntervalToken(%v) = %q, want %q", tc.interval, got, tc.token)
		}
		if got := BybitIntervalFromToken(tc.token); got != tc.interval {
			t.Fatalf("BybitIntervalFromToken(%q) = %v, want %v", tc.token, got, tc.interval)
		}
	}
}

func TestOKXSymbolRoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		canonical  string
		exchangeID string
	}{
		{"usdt quote", "BTCUSDT", "BTC-USDT"},
		{"eth usdt", "ETHUSDT", "ETH-USDT"},
		{"btc quote", "ETHBTC", "ETH-BTC"},
		{"short fallback", "ABCDEF", "ABC-DEF"},
	}
	c := OKX{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.DenormalizeSymbol(tc.canonical); got != tc.exchangeID {
				t.Fatalf("DenormalizeSymbol(%q) = %q, want %q", tc.canonical, got, tc.exchangeID)
			}
			if got := c.NormalizeSymbol(tc.exchangeID); got != tc.canonical {
				t.Fatalf("NormalizeSymbol(%q) = %q, want %q", tc.exchangeID, got, tc.canonical)
			}
		})
	}
}

func TestOKXDenormalizePassthrough(t *testing.T) {
	if got := (OKX{}).DenormalizeSymbol("BTC-USDT"); got != "BTC-USDT" {
		t.Fatalf("dash input should pass through, got %q", got)
	}
}

func TestOKXParseOrder(t *testing.T) {
	raw := json.RawMessage(`{
		"ordId":"555","clOrdId":"my-id","instId":"BTC-USDT","side":"buy",
		"ordType":"limit","px":"50000","sz":"1","accFillSz":"1",
		"avgPx":"50000","state":"filled","fee":"-0.05",
		"cTime":"1700000000000","uTime":"1700000001000"
	}`)
	o, err := OKX{}.ParseOrder(raw)
	if err != nil {
		t.Fatalf("ParseOrder: %v", err)
	}
	if o.Symbol != "BTCUSDT" || o.State != common.StateFilled {
		t.Fatalf("unexpected order: %+v", o)
	}
	if o.Commission != 0.05 {
		t.Fatalf("commission = %v, want 0.05", o.Commission)
	}
}

func TestOKXParseKlineRow(t *testing.T) {
	row := []any{"1700000000000", "100", "110", "90", "105", "42", "x", "x", "0"}
	k, err := OKX{}.ParseKlineRow(row, "BTC-USDT", common.Interval1m)
	if err != nil {
		t.Fatalf("ParseKlineRow: %v", err)
	}
	if k.Symbol != "BTCUSDT" || k.Closed {
		t.Fatalf("unexpected kline: %+v", k)
	}
}
