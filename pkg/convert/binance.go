package convert

import (
	"encoding/json"
	"strconv"
	"strings"

	"quantdesk/pkg/exchanges/common"
)

// Binance converts Binance spot payloads. Symbols are already in canonical
// BASEQUOTE form so Normalize/Denormalize are near passthrough.
type Binance struct{}

func (Binance) Exchange() common.Name { return common.ExchangeBinance }

func (Binance) NormalizeSymbol(symbol string) string { return common.NormalizeSymbol(symbol) }

func (Binance) DenormalizeSymbol(symbol string) string { return common.NormalizeSymbol(symbol) }

// ParseTicker handles both the 24hrTicker stream event (single-letter keys)
// and the REST /api/v3/ticker/24hr object.
func (c Binance) ParseTicker(raw json.RawMessage) (common.Ticker, error) {
	m, err := decodeObject(c.Exchange(), raw)
	if err != nil {
		return common.Ticker{}, err
	}
	if _, ok := m["s"]; ok {
		return c.parseStreamTicker(m)
	}
	return c.parseRESTTicker(m)
}

func (c Binance) parseStreamTicker(m map[string]any) (common.Ticker, error) {
	ex := c.Exchange()
	symbol, err := getString(ex, m, "s")
	if err != nil {
		return common.Ticker{}, err
	}
	last, err := getFloat(ex, m, "c")
	if err != nil {
		return common.Ticker{}, err
	}
	bid, err := getFloatOr(ex, m, "b", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	ask, err := getFloatOr(ex, m, "a", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	high, err := getFloatOr(ex, m, "h", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	low, err := getFloatOr(ex, m, "l", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	vol, err := getFloatOr(ex, m, "v", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	pct, err := getFloatOr(ex, m, "P", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	ts, err := getInt(ex, m, "E")
	if err != nil {
		return common.Ticker{}, err
	}
	return common.Ticker{
		Symbol:            common.NormalizeSymbol(symbol),
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

func (c Binance) parseRESTTicker(m map[string]any) (common.Ticker, error) {
	ex := c.Exchange()
	symbol, err := getString(ex, m, "symbol")
	if err != nil {
		return common.Ticker{}, err
	}
	last, err := getFloat(ex, m, "lastPrice")
	if err != nil {
		return common.Ticker{}, err
	}
	bid, err := getFloatOr(ex, m, "bidPrice", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	ask, err := getFloatOr(ex, m, "askPrice", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	high, err := getFloatOr(ex, m, "highPrice", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	low, err := getFloatOr(ex, m, "lowPrice", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	vol, err := getFloatOr(ex, m, "volume", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	pct, err := getFloatOr(ex, m, "priceChangePercent", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	ts, err := getInt(ex, m, "closeTime")
	if err != nil {
		return common.Ticker{}, err
	}
	return common.Ticker{
		Symbol:            common.NormalizeSymbol(symbol),
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

// ParseKline handles the kline stream event: the candle payload lives under
// the "k" key.
func (c Binance) ParseKline(raw json.RawMessage) (common.Kline, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return common.Kline{}, err
	}
	kv, err := getField(ex, m, "k")
	if err != nil {
		return common.Kline{}, err
	}
	k, ok := kv.(map[string]any)
	if !ok {
		return common.Kline{}, invalidValue(ex, "k", "not an object")
	}

	symbol, err := getString(ex, k, "s")
	if err != nil {
		return common.Kline{}, err
	}
	interval, err := getString(ex, k, "i")
	if err != nil {
		return common.Kline{}, err
	}
	openTime, err := getInt(ex, k, "t")
	if err != nil {
		return common.Kline{}, err
	}
	closeTime, err := getInt(ex, k, "T")
	if err != nil {
		return common.Kline{}, err
	}
	open, err := getFloat(ex, k, "o")
	if err != nil {
		return common.Kline{}, err
	}
	high, err := getFloat(ex, k, "h")
	if err != nil {
		return common.Kline{}, err
	}
	low, err := getFloat(ex, k, "l")
	if err != nil {
		return common.Kline{}, err
	}
	closePx, err := getFloat(ex, k, "c")
	if err != nil {
		return common.Kline{}, err
	}
	vol, err := getFloatOr(ex, k, "v", 0)
	if err != nil {
		return common.Kline{}, err
	}
	closed, _ := k["x"].(bool)

	return common.Kline{
		Symbol:    common.NormalizeSymbol(symbol),
		Interval:  common.Interval(interval),
		OpenTime:  NormalizeTimestamp(openTime),
		CloseTime: NormalizeTimestamp(closeTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    vol,
		Closed:    closed,
	}, nil
}

// ParseKlineRow converts one REST /api/v3/klines row
// [openTime, open, high, low, close, volume, closeTime, ...].
func (c Binance) ParseKlineRow(row []any, symbol string, interval common.Interval) (common.Kline, error) {
	ex := c.Exchange()
	openTime, err := arrayInt(ex, row, 0, "openTime")
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
	closeTime, err := arrayInt(ex, row, 6, "closeTime")
	if err != nil {
		return common.Kline{}, err
	}
	return common.Kline{
		Symbol:    common.NormalizeSymbol(symbol),
		Interval:  interval,
		OpenTime:  NormalizeTimestamp(openTime),
		CloseTime: NormalizeTimestamp(closeTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    vol,
		Closed:    true,
	}, nil
}

// ParseOrder handles both the executionReport user-stream event and REST
// order objects.
func (c Binance) ParseOrder(raw json.RawMessage) (common.Order, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return common.Order{}, err
	}
	if ev, _ := m["e"].(string); ev == "executionReport" {
		return c.parseExecutionReport(m)
	}
	return c.parseRESTOrder(m)
}

func (c Binance) parseExecutionReport(m map[string]any) (common.Order, error) {
	ex := c.Exchange()
	symbol, err := getString(ex, m, "s")
	if err != nil {
		return common.Order{}, err
	}
	orderID, err := getInt(ex, m, "i")
	if err != nil {
		return common.Order{}, err
	}
	clientID, _ := m["c"].(string)
	sideStr, err := getString(ex, m, "S")
	if err != nil {
		return common.Order{}, err
	}
	typeStr, err := getString(ex, m, "o")
	if err != nil {
		return common.Order{}, err
	}
	statusStr, err := getString(ex, m, "X")
	if err != nil {
		return common.Order{}, err
	}
	price, err := getFloatOr(ex, m, "p", 0)
	if err != nil {
		return common.Order{}, err
	}
	qty, err := getFloat(ex, m, "q")
	if err != nil {
		return common.Order{}, err
	}
	filled, err := getFloatOr(ex, m, "z", 0)
	if err != nil {
		return common.Order{}, err
	}
	quoteFilled, err := getFloatOr(ex, m, "Z", 0)
	if err != nil {
		return common.Order{}, err
	}
	commission, err := getFloatOr(ex, m, "n", 0)
	if err != nil {
		return common.Order{}, err
	}
	ts, err := getInt(ex, m, "E")
	if err != nil {
		return common.Order{}, err
	}

	var avg float64
	if filled > 0 {
		avg = quoteFilled / filled
	}
	side, err := common.ParseSide(sideStr)
	if err != nil {
		return common.Order{}, invalidValue(ex, "S", sideStr)
	}
	return common.Order{
		ExchangeOrderID: formatInt(orderID),
		ClientID:        clientID,
		Exchange:        ex,
		Symbol:          common.NormalizeSymbol(symbol),
		Side:            side,
		Type:            common.OrderType(strings.ToUpper(typeStr)),
		Price:           price,
		Qty:             qty,
		FilledQty:       filled,
		AvgPrice:        avg,
		State:           BinanceOrderState(statusStr),
		Commission:      commission,
		UpdatedAt:       NormalizeTimestamp(ts),
	}, nil
}

func (c Binance) parseRESTOrder(m map[string]any) (common.Order, error) {
	ex := c.Exchange()
	symbol, err := getString(ex, m, "symbol")
	if err != nil {
		return common.Order{}, err
	}
	orderID, err := getInt(ex, m, "orderId")
	if err != nil {
		return common.Order{}, err
	}
	clientID, _ := m["clientOrderId"].(string)
	sideStr, err := getString(ex, m, "side")
	if err != nil {
		return common.Order{}, err
	}
	typeStr, err := getString(ex, m, "type")
	if err != nil {
		return common.Order{}, err
	}
	statusStr, err := getString(ex, m, "status")
	if err != nil {
		return common.Order{}, err
	}
	price, err := getFloatOr(ex, m, "price", 0)
	if err != nil {
		return common.Order{}, err
	}
	qty, err := getFloat(ex, m, "origQty")
	if err != nil {
		return common.Order{}, err
	}
	filled, err := getFloatOr(ex, m, "executedQty", 0)
	if err != nil {
		return common.Order{}, err
	}
	quoteFilled, err := getFloatOr(ex, m, "cummulativeQuoteQty", 0)
	if err != nil {
		return common.Order{}, err
	}
	var created, updated int64
	if _, ok := m["time"]; ok {
		created, _ = getInt(ex, m, "time")
	}
	if _, ok := m["updateTime"]; ok {
		updated, _ = getInt(ex, m, "updateTime")
	} else if _, ok := m["transactTime"]; ok {
		updated, _ = getInt(ex, m, "transactTime")
	}

	var avg float64
	if filled > 0 {
		avg = quoteFilled / filled
	}
	side, err := common.ParseSide(sideStr)
	if err != nil {
		return common.Order{}, invalidValue(ex, "side", sideStr)
	}
	return common.Order{
		ExchangeOrderID: formatInt(orderID),
		ClientID:        clientID,
		Exchange:        ex,
		Symbol:          common.NormalizeSymbol(symbol),
		Side:            side,
		Type:            common.OrderType(strings.ToUpper(typeStr)),
		Price:           price,
		Qty:             qty,
		FilledQty:       filled,
		AvgPrice:        avg,
		State:           BinanceOrderState(statusStr),
		CreatedAt:       NormalizeTimestamp(created),
		UpdatedAt:       NormalizeTimestamp(updated),
	}, nil
}

// ParseBalances reads the balances array of /api/v3/account, dropping
// zero-balance assets.
func (c Binance) ParseBalances(raw json.RawMessage) ([]common.Balance, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return nil, err
	}
	bv, err := getField(ex, m, "balances")
	if err != nil {
		return nil, err
	}
	rows, ok := bv.([]any)
	if !ok {
		return nil, invalidValue(ex, "balances", "not an array")
	}

	var out []common.Balance
	for _, rv := range rows {
		row, ok := rv.(map[string]any)
		if !ok {
			continue
		}
		asset, err := getString(ex, row, "asset")
		if err != nil {
			return nil, err
		}
		free, err := getFloatOr(ex, row, "free", 0)
		if err != nil {
			return nil, err
		}
		locked, err := getFloatOr(ex, row, "locked", 0)
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

// ParsePositions returns no positions: Binance spot has no position endpoint,
// exposure is tracked locally from fills.
func (c Binance) ParsePositions(json.RawMessage) ([]common.Position, error) {
	return nil, nil
}

// BinanceOrderState maps a Binance order status to the canonical lifecycle.
func BinanceOrderState(status string) common.OrderState {
	switch strings.ToUpper(status) {
	case "NEW":
		return common.StateOpen
	case "PARTIALLY_FILLED":
		return common.StatePartiallyFilled
	case "FILLED":
		return common.StateFilled
	case "CANCELED", "EXPIRED":
		return common.StateCanceled
	case "REJECTED":
		return common.StateRejected
	default:
		return common.StatePending
	}
}

// formatInt renders an exchange-assigned numeric id, keeping zero as unset.
func formatInt(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
