package common

import (
	"fmt"
	"strings"
)

// Name identifies a supported trading venue.
type Name string

const (
	ExchangeBinance Name = "binance"
	ExchangeBybit   Name = "bybit"
	ExchangeOKX     Name = "okx"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns SELL for BUY and BUY for SELL.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide normalizes an order side string.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", s)
	}
}

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStopLoss        OrderType = "STOP_LOSS"
	OrderTypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfit      OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
	OrderTypeOCO             OrderType = "OCO"
)

// ParseOrderType normalizes an order type string.
func ParseOrderType(s string) (OrderType, error) {
	t := OrderType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeStopLossLimit,
		OrderTypeTakeProfit, OrderTypeTakeProfitLimit, OrderTypeOCO:
		return t, nil
	default:
		return "", fmt.Errorf("unknown order type %q", s)
	}
}

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderState normalizes exchange order status into the canonical lifecycle.
type OrderState string

const (
	StatePending         OrderState = "pending"
	StateOpen            OrderState = "open"
	StatePartiallyFilled OrderState = "partially_filled"
	StateFilled          OrderState = "filled"
	StateCanceled        OrderState = "canceled"
	StateRejected        OrderState = "rejected"
)

// IsTerminal reports whether the state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected:
		return true
	}
	return false
}

// IsActive reports whether the order is still working on the exchange.
func (s OrderState) IsActive() bool {
	switch s {
	case StatePending, StateOpen, StatePartiallyFilled:
		return true
	}
	return false
}

// ParseOrderState normalizes a state string (case-insensitive).
func ParseOrderState(s string) (OrderState, error) {
	st := OrderState(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatePending, StateOpen, StatePartiallyFilled, StateFilled, StateCanceled, StateRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown order state %q", s)
	}
}

// PositionSide distinguishes long from short exposure.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// PositionSideFor maps a trade side to the position it affects.
func PositionSideFor(s Side) PositionSide {
	if s == SideSell {
		return PositionShort
	}
	return PositionLong
}

// Interval is a canonical kline interval token.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// ParseInterval validates an interval token.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval4h, Interval1d:
		return Interval(s), nil
	default:
		return "", fmt.Errorf("unknown kline interval %q", s)
	}
}

// Ticker is a normalized 24h market snapshot. Timestamps are Unix milliseconds.
type Ticker struct {
	Symbol            string
	LastPrice         float64
	BidPrice          float64
	AskPrice          float64
	High24h           float64
	Low24h            float64
	Volume24h         float64
	PriceChangePct24h float64
	Timestamp         int64
}

// Kline is a normalized candlestick.
type Kline struct {
	Symbol    string
	Interval  Interval
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool
}

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	StopPrice   float64 // required for STOP_LOSS/TAKE_PROFIT orders
	TimeInForce TimeInForce
	ClientID    string // optional client order id
	StrategyID  string // originating strategy, if any
}

// Order is the canonical order record. Zero values mean unset for optional
// numerics (ExchangeOrderID empty, AvgPrice 0, FilledAt 0).
type Order struct {
	ID              string
	ExchangeOrderID string
	ClientID        string
	Exchange        Name
	Symbol          string
	Side            Side
	Type            OrderType
	Price           float64
	StopPrice       float64
	Qty             float64
	FilledQty       float64
	AvgPrice        float64
	State           OrderState
	Commission      float64
	StrategyID      string
	CreatedAt       int64
	UpdatedAt       int64
	FilledAt        int64
}

// Position is the canonical position record, keyed (Symbol, Side).
type Position struct {
	Symbol        string
	Side          PositionSide
	Qty           float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	RealizedPnL   float64
	OpenedAt      int64
	UpdatedAt     int64
}

// Balance is a per-asset account balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total returns free plus locked balance.
func (b Balance) Total() float64 { return b.Free + b.Locked }

// NormalizeSymbol strips separators and upper-cases so every venue's symbol
// collapses to the canonical BASEQUOTE form.
func NormalizeSymbol(symbol string) string {
	r := strings.NewReplacer("-", "", "_", "", "/", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(symbol)))
}
