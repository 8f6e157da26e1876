package convert

import (
	"encoding/json"
	"strings"

	"quantdesk/pkg/exchanges/common"
)

// Bybit converts Bybit v5 spot payloads. Symbols already match the canonical
// form; kline intervals use Bybit's minute-count tokens.
type Bybit struct{}

func (Bybit) Exchange() common.Name { return common.ExchangeBybit }

func (Bybit) NormalizeSymbol(symbol string) string { return common.NormalizeSymbol(symbol) }

func (Bybit) DenormalizeSymbol(symbol string) string { return common.NormalizeSymbol(symbol) }

// BybitIntervalToken maps a canonical interval to Bybit's kline token
// (1/5/15/30/60/240/D).
func BybitIntervalToken(i common.Interval) string {
	switch i {
	case common.Interval1m:
		return "1"
	case common.Interval5m:
		return "5"
	case common.Interval15m:
		return "15"
	case common.Interval30m:
		return "30"
	case common.Interval1h:
		return "60"
	case common.Interval4h:
		return "240"
	case common.Interval1d:
		return "D"
	default:
		return string(i)
	}
}

// BybitIntervalFromToken is the inverse of BybitIntervalToken.
func BybitIntervalFromToken(token string) common.Interval {
	switch token {
	case "1":
		return common.Interval1m
	case "5":
		return common.Interval5m
	case "15":
		return common.Interval15m
	case "30":
		return common.Interval30m
	case "60":
		return common.Interval1h
	case "240":
		return common.Interval4h
	case "D":
		return common.Interval1d
	default:
		return common.Interval(token)
	}
}

// ParseTicker reads a ticker object as pushed on the tickers.<symbol> topic or
// returned in REST result.list.
func (c Bybit) ParseTicker(raw json.RawMessage) (common.Ticker, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return common.Ticker{}, err
	}
	symbol, err := getString(ex, m, "symbol")
	if err != nil {
		return common.Ticker{}, err
	}
	last, err := getFloat(ex, m, "lastPrice")
	if err != nil {
		return common.Ticker{}, err
	}
	bid, err := getFloatOr(ex, m, "bid1Price", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	ask, err := getFloatOr(ex, m, "ask1Price", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	high, err := getFloatOr(ex, m, "highPrice24h", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	low, err := getFloatOr(ex, m, "lowPrice24h", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	vol, err := getFloatOr(ex, m, "volume24h", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	// price24hPcnt is a fraction (0.015 = +1.5%).
	pcnt, err := getFloatOr(ex, m, "price24hPcnt", 0)
	if err != nil {
		return common.Ticker{}, err
	}
	ts, err := getIntOr(ex, m, "time", 0)
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
		PriceChangePct24h: pcnt * 100,
		Timestamp:         NormalizeTimestamp(ts),
	}, nil
}

// ParseKline reads one candle object as pushed on kline.<interval>.<symbol>.
// The topic carries symbol and interval; pass them through.
func (c Bybit) ParseKlineData(raw json.RawMessage, symbol string, interval common.Interval) (common.Kline, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return common.Kline{}, err
	}
	start, err := getInt(ex, m, "start")
	if err != nil {
		return common.Kline{}, err
	}
	end, err := getIntOr(ex, m, "end", 0)
	if err != nil {
		return common.Kline{}, err
	}
	open, err := getFloat(ex, m, "open")
	if err != nil {
		return common.Kline{}, err
	}
	high, err := getFloat(ex, m, "high")
	if err != nil {
		return common.Kline{}, err
	}
	low, err := getFloat(ex, m, "low")
	if err != nil {
		return common.Kline{}, err
	}
	closePx, err := getFloat(ex, m, "close")
	if err != nil {
		return common.Kline{}, err
	}
	vol, err := getFloatOr(ex, m, "volume", 0)
	if err != nil {
		return common.Kline{}, err
	}
	closed, _ := m["confirm"].(bool)

	return common.Kline{
		Symbol:    common.NormalizeSymbol(symbol),
		Interval:  interval,
		OpenTime:  NormalizeTimestamp(start),
		CloseTime: NormalizeTimestamp(end),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    vol,
		Closed:    closed,
	}, nil
}

// ParseKline satisfies Converter for payloads that already carry symbol and
// interval fields; stream handlers use ParseKlineData with topic context.
func (c Bybit) ParseKline(raw json.RawMessage) (common.Kline, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return common.Kline{}, err
	}
	symbol, err := getString(ex, m, "symbol")
	if err != nil {
		return common.Kline{}, err
	}
	token, err := getString(ex, m, "interval")
	if err != nil {
		return common.Kline{}, err
	}
	return c.ParseKlineData(raw, symbol, BybitIntervalFromToken(token))
}

// ParseKlineRow converts one REST /v5/market/kline row
// [start, open, high, low, close, volume, turnover].
func (c Bybit) ParseKlineRow(row []any, symbol string, interval common.Interval) (common.Kline, error) {
	ex := c.Exchange()
	start, err := arrayInt(ex, row, 0, "start")
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
	return common.Kline{
		Symbol:    common.NormalizeSymbol(symbol),
		Interval:  interval,
		OpenTime:  NormalizeTimestamp(start),
		CloseTime: NormalizeTimestamp(start),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    vol,
		Closed:    true,
	}, nil
}

// ParseOrder reads a v5 order object (REST result.list entry or private
// order topic push).
func (c Bybit) ParseOrder(raw json.RawMessage) (common.Order, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return common.Order{}, err
	}
	orderID, err := getString(ex, m, "orderId")
	if err != nil {
		return common.Order{}, err
	}
	clientID, _ := m["orderLinkId"].(string)
	symbol, err := getString(ex, m, "symbol")
	if err != nil {
		return common.Order{}, err
	}
	sideStr, err := getString(ex, m, "side")
	if err != nil {
		return common.Order{}, err
	}
	typeStr, err := getString(ex, m, "orderType")
	if err != nil {
		return common.Order{}, err
	}
	statusStr, err := getString(ex, m, "orderStatus")
	if err != nil {
		return common.Order{}, err
	}
	price, err := getFloatOr(ex, m, "price", 0)
	if err != nil {
		return common.Order{}, err
	}
	qty, err := getFloat(ex, m, "qty")
	if err != nil {
		return common.Order{}, err
	}
	filled, err := getFloatOr(ex, m, "cumExecQty", 0)
	if err != nil {
		return common.Order{}, err
	}
	avg, err := getFloatOr(ex, m, "avgPrice", 0)
	if err != nil {
		return common.Order{}, err
	}
	fee, err := getFloatOr(ex, m, "cumExecFee", 0)
	if err != nil {
		return common.Order{}, err
	}
	created, err := getIntOr(ex, m, "createdTime", 0)
	if err != nil {
		return common.Order{}, err
	}
	updated, err := getIntOr(ex, m, "updatedTime", 0)
	if err != nil {
		return common.Order{}, err
	}

	side, err := common.ParseSide(sideStr)
	if err != nil {
		return common.Order{}, invalidValue(ex, "side", sideStr)
	}
	return common.Order{
		ExchangeOrderID: orderID,
		ClientID:        clientID,
		Exchange:        ex,
		Symbol:          common.NormalizeSymbol(symbol),
		Side:            side,
		Type:            common.OrderType(strings.ToUpper(typeStr)),
		Price:           price,
		Qty:             qty,
		FilledQty:       filled,
		AvgPrice:        avg,
		State:           BybitOrderState(statusStr),
		Commission:      fee,
		CreatedAt:       NormalizeTimestamp(created),
		UpdatedAt:       NormalizeTimestamp(updated),
	}, nil
}

// ParseBalances reads the coin array of /v5/account/wallet-balance
// result.list[0].
func (c Bybit) ParseBalances(raw json.RawMessage) ([]common.Balance, error) {
	ex := c.Exchange()
	m, err := decodeObject(ex, raw)
	if err != nil {
		return nil, err
	}
	cv, err := getField(ex, m, "coin")
	if err != nil {
		return nil, err
	}
	rows, ok := cv.([]any)
	if !ok {
		return nil, invalidValue(ex, "coin", "not an array")
	}

	var out []common.Balance
	for _, rv := range rows {
		row, ok := rv.(map[string]any)
		if !ok {
			continue
		}
		asset, err := getString(ex, row, "coin")
		if err != nil {
			return nil, err
		}
		total, err := getFloatOr(ex, row, "walletBalance", 0)
		if err != nil {
			return nil, err
		}
		locked, err := getFloatOr(ex, row, "locked", 0)
		if err != nil {
			return nil, err
		}
		free := total - locked
		if free < 0 {
			free = 0
		}
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, common.Balance{Asset: asset, Free: free, Locked: locked})
	}
	return out, nil
}

// ParsePositions returns no positions: spot trading carries no exchange-side
// position records.
func (c Bybit) ParsePositions(json.RawMessage) ([]common.Position, error) {
	return nil, nil
}

// BybitOrderState maps a v5 orderStatus to the canonical lifecycle.
func BybitOrderState(status string) common.OrderState {
	switch status {
	case "New":
		return common.StateOpen
	case "PartiallyFilled":
		return common.StatePartiallyFilled
	case "Filled":
		return common.StateFilled
	case "Cancelled", "PartiallyFilledCanceled":
		return common.StateCanceled
	case "Rejected":
		return common.StateRejected
	default:
		return common.StatePending
	}
}
