package reconciliation

import (
	"context"
	"path/filepath"
	"testing"

	"quantdesk/internal/events"
	"quantdesk/internal/position"
	"quantdesk/internal/trade"
	"quantdesk/pkg/cache"
	"quantdesk/pkg/db"
	"quantdesk/pkg/exchanges/common"
)

type stubExchange struct {
	placeResult common.Order
	getResult   common.Order
}

func (x *stubExchange) Name() common.Name             { return common.ExchangeBinance }
func (x *stubExchange) Connect(context.Context) error { return nil }
func (x *stubExchange) Disconnect() error             { return nil }
func (x *stubExchange) IsConnected() bool             { return true }
func (x *stubExchange) GetTicker(context.Context, string) (common.Ticker, error) {
	return common.Ticker{}, nil
}
func (x *stubExchange) GetKlines(context.Context, string, common.Interval, int) ([]common.Kline, error) {
	return nil, nil
}
func (x *stubExchange) SubscribeTicker(context.Context, string) error { return nil }
func (x *stubExchange) SubscribeKlines(context.Context, string, common.Interval) error {
	return nil
}
func (x *stubExchange) SubscribeUserData(context.Context) error { return nil }
func (x *stubExchange) TickerStream() (<-chan common.Ticker, func()) {
	return make(chan common.Ticker), func() {}
}
func (x *stubExchange) KlineStream() (<-chan common.Kline, func()) {
	return make(chan common.Kline), func() {}
}
func (x *stubExchange) OrderStream() (<-chan common.Order, func()) {
	return make(chan common.Order), func() {}
}
func (x *stubExchange) PlaceOrder(_ context.Context, req common.OrderRequest) (common.Order, error) {
	o := x.placeResult
	o.ClientID = req.ClientID
	return o, nil
}
func (x *stubExchange) CancelOrder(context.Context, string, string) error { return nil }
func (x *stubExchange) GetOrder(_ context.Context, _ string, _ string) (common.Order, error) {
	return x.getResult, nil
}
func (x *stubExchange) GetOpenOrders(context.Context, string) ([]common.Order, error) {
	return nil, nil
}
func (x *stubExchange) GetBalance(context.Context) ([]common.Balance, error) { return nil, nil }
func (x *stubExchange) GetPositions(context.Context) ([]common.Position, error) {
	return nil, nil
}

func TestReconcilePicksUpFills(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "recon.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	ex := &stubExchange{
		placeResult: common.Order{
			ExchangeOrderID: "ex-1",
			Symbol:          "BTCUSDT",
			Side:            common.SideBuy,
			Type:            common.OrderTypeLimit,
			Qty:             1,
			Price:           50000,
			State:           common.StateOpen,
		},
	}
	trades := trade.NewService(ex, database, position.NewManager(database), events.NewBus(), cache.NewPriceCache())

	ctx := context.Background()
	placed, err := trades.PlaceOrder(ctx, common.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeLimit,
		Qty:    1,
		Price:  50000,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// the venue filled the order while the stream was down
	ex.getResult = common.Order{
		ClientID:        placed.ClientID,
		ExchangeOrderID: "ex-1",
		Symbol:          "BTCUSDT",
		Side:            common.SideBuy,
		Type:            common.OrderTypeLimit,
		Qty:             1,
		Price:           50000,
		FilledQty:       1,
		AvgPrice:        50000,
		State:           common.StateFilled,
	}

	svc := NewService(trades, 0)
	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Checked != 1 || report.Changed != 1 || report.Errors != 0 {
		t.Fatalf("report = %+v", report)
	}

	got, err := trades.GetOrder(ctx, placed.ClientID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != common.StateFilled {
		t.Fatalf("state = %q, want filled", got.State)
	}

	// nothing left open
	report, err = svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if report.Checked != 0 {
		t.Fatalf("checked = %d, want 0", report.Checked)
	}
}
