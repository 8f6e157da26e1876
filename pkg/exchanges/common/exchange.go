package common

import "context"

// Exchange abstracts a trading venue: REST account/trading endpoints plus
// websocket market and user-data streams. Stream accessors return independent
// subscriptions; a slow consumer loses its oldest buffered events but never
// blocks the reader goroutine.
type Exchange interface {
	Name() Name

	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetKlines(ctx context.Context, symbol string, interval Interval, limit int) ([]Kline, error)

	SubscribeTicker(ctx context.Context, symbol string) error
	SubscribeKlines(ctx context.Context, symbol string, interval Interval) error
	SubscribeUserData(ctx context.Context) error

	TickerStream() (<-chan Ticker, func())
	KlineStream() (<-chan Kline, func())
	OrderStream() (<-chan Order, func())

	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOrder(ctx context.Context, symbol, exchangeOrderID string) (Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	GetBalance(ctx context.Context) ([]Balance, error)
	GetPositions(ctx context.Context) ([]Position, error)
}

// Credentials carries API authentication material for a venue. Passphrase is
// only used by venues that require one.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Testnet    bool
}
