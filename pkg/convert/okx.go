package convert

import (
	"encoding/json"
	"strings"

	"quantdesk/pkg/exchanges/common"
)

// okxQuotes are the quote currencies recognized when re-inserting the dash
// into a canonical symbol. Order matters: longest match wins by listing the
// longer suffixes first.
var okxQuotes = []string{"USDT", "USD", "EUR", "BTC", "ETH", "BNB"}

// OKX converts OKX v5 payloads. Instrument ids are dash-separated
// (BTC-USDT); converters translate at the boundary so the rest of the system
// only sees canonical symbols.
type OKX struct{}

func (OKX) Exchange() common.Name { return common.ExchangeOKX }

func (OKX) NormalizeSymbol(symbol string) string { return common.NormalizeSymbol(symbol) }

// DenormalizeSymbol rebuilds the dash form from a canonical symbol: split on a
// known quote suffix, otherwise split at 3 for short symbols and 4 for longer
// ones. Already-dashed input passes through.
func (OKX) DenormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "-") {
		return s
	}
	for _, quote := range okxQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "-" + quote
		}
	}
	if len(s) <= 6 && len(s) > 3 {
		return s[:3] + "-" + s[3:]
	}
	if len(s) > 4 {
		return s[:4] + "-" + s[4:]
	}
	return s
}

// OKXBarToken maps a canonical interval to an OKX bar token.
func OKXBarToken(i common.Interval) string {
	switch i {
	case common.Interval1h:
		return "1H"
	case common.Interval4h:
		return "4H"
	case common.Interval1d:
		return "1D"
	default:
		return string(i) // minute bars share the canonical token
	}
}

// ParseTicker reads one entry of /api/v5/market/ticker data or a tickers
// channel push.
func (c OKX) ParseTicker(raw json.RawMessage) (common.Ticker, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return common.Ticker{}, err
	}
	instID, err := getString(ex, m, "instId")
	if err != nil {
		return common.Ticker{}, err
	}
	last, err := getFloat(ex, m, "last")
	if err != nil {
		return common.Ticker{}, err
	}
	bid, err := getFloatOr(ex, m, "bidPx", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	ask, err := getFloatOr(ex, m, "askPx", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	high, err := getFloatOr(ex, m, "high24h", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	low, err := getFloatOr(ex, m, "low24h", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	vol, err := getFloatOr(ex, m, "vol24h", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	open, err := getFloatOr(ex, m, "open24h", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	ts, err := getIntOr(ex, m, "ts", 0)
	if err != nil {
		return common.Ticker{}, err
	}

	var pct float64
	if open > 0 {
		pct = (last - open) / open * 100
	}
	return common.Ticker{
		Symbol:            common.NormalizeSymbol(instID),
		LastPrice:         last,
		BidPrice:          bid,
		AskPrice:          ask,
		High24h:           high,
		Low24h:            low,
		Volume24h:         vol,
		PriceChangePct24h: pct,
		Timestamp:         NormalizeTimestamp(ts),
	}, nil
}

// ParseKlineRow converts one candle row [ts, o, h, l, c, vol, ...] as used by
// both REST candles and the candle channels.
func (c OKX) ParseKlineRow(row []any, symbol string, interval common.Interval) (common.Kline, error) {
	ex := c.Exchange()
	ts, err := arrayInt(ex, row, 0, "ts")
	if err != nil {
		return common.Kline{}, err
	}
	open, err := arrayFloat(ex, row, 1, "open")
	if err != nil {
		return common.Kline{}, err
	}
	high, err := arrayFloat(ex, row, 2, "high")
	if err != nil {
		return common.Kline{}, err
	}
	low, err := arrayFloat(ex, row, 3, "low")
	if err != nil {
		return common.Kline{}, err
	}
	closePx, err := arrayFloat(ex, row, 4, "close")
	if err != nil {
		return common.Kline{}, err
	}
	vol, err := arrayFloat(ex, row, 5, "volume")
	if err != nil {
		return common.Kline{}, err
	}
	// Row index 8, when present, is the confirm flag ("1" = closed).
	closed := true
	if len(row) > 8 {
		if s, ok := row[8].(string); ok {
			closed = s == "1"
		}
	}
	return common.Kline{
		Symbol:    common.NormalizeSymbol(symbol),
		Interval:  interval,
		OpenTime:  NormalizeTimestamp(ts),
		CloseTime: NormalizeTimestamp(ts),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    vol,
		Closed:    closed,
	}, nil
}

// ParseKline satisfies Converter for object-shaped candle payloads carrying
// instId; channel handlers use ParseKlineRow with channel context.
func (c OKX) ParseKline(raw json.RawMessage) (common.Kline, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return common.Kline{}, err
	}
	instID, err := getString(ex, m, "instId")
	if err != nil {
		return common.Kline{}, err
	}
	ts, err := getInt(ex, m, "ts")
	if err != nil {
		return common.Kline{}, err
	}
	open, err := getFloat(ex, m, "o")
	if err != nil {
		return common.Kline{}, err
	}
	high, err := getFloat(ex, m, "h")
	if err != nil {
		return common.Kline{}, err
	}
	low, err := getFloat(ex, m, "l")
	if err != nil {
		return common.Kline{}, err
	}
	closePx, err := getFloat(ex, m, "c")
	if err != nil {
		return common.Kline{}, err
	}
	vol, err := getFloatOr(ex, m, "vol", 0)
	if err != nil {
		return common.Kline{}, err
	}
	return common.Kline{
		Symbol:    common.NormalizeSymbol(instID),
		OpenTime:  NormalizeTimestamp(ts),
		CloseTime: NormalizeTimestamp(ts),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    vol,
		Closed:    true,
	}, nil
}

// ParseOrder reads an OKX order object (REST data entry or orders channel
// push).
func (c OKX) ParseOrder(raw json.RawMessage) (common.Order, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return common.Order{}, err
	}
	orderID, err := getString(ex, m, "ordId")
	if err != nil {
		return common.Order{}, err
	}
	clientID, _ := m["clOrdId"].(string)
	instID, err := getString(ex, m, "instId")
	if err != nil {
		return common.Order{}, err
	}
	sideStr, err := getString(ex, m, "side")
	if err != nil {
		return common.Order{}, err
	}
	typeStr, err := getString(ex, m, "ordType")
	if err != nil {
		return common.Order{}, err
	}
	stateStr, err := getString(ex, m, "state")
	if err != nil {
		return common.Order{}, err
	}
	price, err := getFloatOr(ex, m, "px", 0)
	if err != nil {
		return common.Order{}, err
	}
	qty, err := getFloat(ex, m, "sz")
	if err != nil {
		return common.Order{}, err
	}
	filled, err := getFloatOr(ex, m, "accFillSz", 0)
	if err != nil {
		return common.Order{}, err
	}
	avg, err := getFloatOr(ex, m, "avgPx", 0)
	if err != nil {
		return common.Order{}, err
	}
	fee, err := getFloatOr(ex, m, "fee", 0)
	if err != nil {
		return common.Order{}, err
	}
	created, err := getIntOr(ex, m, "cTime", 0)
	if err != nil {
		return common.Order{}, err
	}
	updated, err := getIntOr(ex, m, "uTime", 0)
	if err != nil {
		return common.Order{}, err
	}

	side, err := common.ParseSide(sideStr)
	if err != nil {
		return common.Order{}, invalidValue(ex, "side", sideStr)
	}
	if fee < 0 {
		fee = -fee // OKX reports fees as negative charges
	}
	return common.Order{
		ExchangeOrderID: orderID,
		ClientID:        clientID,
		Exchange:        ex,
		Symbol:          common.NormalizeSymbol(instID),
		Side:            side,
		Type:            okxOrderType(typeStr),
		Price:           price,
		Qty:             qty,
		FilledQty:       filled,
		AvgPrice:        avg,
		State:           OKXOrderState(stateStr),
		Commission:      fee,
		CreatedAt:       NormalizeTimestamp(created),
		UpdatedAt:       NormalizeTimestamp(updated),
	}, nil
}

// ParseBalances reads the details array of /api/v5/account/balance data[0].
func (c OKX) ParseBalances(raw json.RawMessage) ([]common.Balance, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return nil, err
	}
	dv, err := getField(ex, m, "details")
	if err != nil {
		return nil, err
	}
	rows, ok := dv.([]any)
	if !ok {
		return nil, invalidValue(ex, "details", "not an array")
	}

	var out []common.Balance
	for _, rv := range rows {
		row, ok := rv.(map[string]any)
		if !ok {
			continue
		}
		asset, err := getString(ex, row, "ccy")
		if err != nil {
			return nil, err
		}
		free, err := getFloatOr(ex, row, "availBal", 0)
		if err != nil {
			return nil, err
		}
		locked, err := getFloatOr(ex, row, "frozenBal", 0)
		if err != nil {
			return nil, err
		}
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, common.Balance{Asset: asset, Free: free, Locked: locked})
	}
	return out, nil
}

// ParsePositions returns no positions for spot instruments; exposure is
// tracked locally.
func (c OKX) ParsePositions(json.RawMessage) ([]common.Position, error) {
	return nil, nil
}

// OKXOrderState maps an OKX order state to the canonical lifecycle.
func OKXOrderState(state string) common.OrderState {
	switch strings.ToLower(state) {
	case "live":
		return common.StateOpen
	case "partially_filled":
		return common.StatePartiallyFilled
	case "filled":
		return common.StateFilled
	case "canceled", "mmp_canceled":
		return common.StateCanceled
	default:
		return common.StatePending
	}
}

func okxOrderType(t string) common.OrderType {
	switch strings.ToLower(t) {
	case "market":
		return common.OrderTypeMarket
	case "limit":
		return common.OrderTypeLimit
	default:
		return common.OrderType(strings.ToUpper(t))
	}
}
