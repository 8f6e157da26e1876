package trade

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"quantdesk/internal/events"
	"quantdesk/internal/position"
	"quantdesk/pkg/cache"
	"quantdesk/pkg/db"
	"quantdesk/pkg/exchanges/common"
)

// fakeExchange is a scriptable venue for service tests.
type fakeExchange struct {
	placeResult common.Order
	placeErr    error
	getResult   common.Order
	getErr      error
	cancelErr   error
	canceled    []string
	placed      []common.OrderRequest
}

func (f *fakeExchange) Name() common.Name                { return common.ExchangeBinance }
func (f *fakeExchange) Connect(context.Context) error    { return nil }
func (f *fakeExchange) Disconnect() error                { return nil }
func (f *fakeExchange) IsConnected() bool                { return true }
func (f *fakeExchange) GetTicker(context.Context, string) (common.Ticker, error) {
	return common.Ticker{}, nil
}
func (f *fakeExchange) GetKlines(context.Context, string, common.Interval, int) ([]common.Kline, error) {
	return nil, nil
}
func (f *fakeExchange) SubscribeTicker(context.Context, string) error { return nil }
func (f *fakeExchange) SubscribeKlines(context.Context, string, common.Interval) error {
	return nil
}
func (f *fakeExchange) SubscribeUserData(context.Context) error { return nil }
func (f *fakeExchange) TickerStream() (<-chan common.Ticker, func()) {
	ch := make(chan common.Ticker)
	return ch, func() {}
}
func (f *fakeExchange) KlineStream() (<-chan common.Kline, func()) {
	ch := make(chan common.Kline)
	return ch, func() {}
}
func (f *fakeExchange) OrderStream() (<-chan common.Order, func()) {
	ch := make(chan common.Order)
	return ch, func() {}
}
func (f *fakeExchange) PlaceOrder(_ context.Context, req common.OrderRequest) (common.Order, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return common.Order{}, f.placeErr
	}
	o := f.placeResult
	o.ClientID = req.ClientID
	return o, nil
}
func (f *fakeExchange) CancelOrder(_ context.Context, _ string, id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, id)
	return nil
}
func (f *fakeExchange) GetOrder(context.Context, string, string) (common.Order, error) {
	return f.getResult, f.getErr
}
func (f *fakeExchange) GetOpenOrders(context.Context, string) ([]common.Order, error) {
	return nil, nil
}
func (f *fakeExchange) GetBalance(context.Context) ([]common.Balance, error) { return nil, nil }
func (f *fakeExchange) GetPositions(context.Context) ([]common.Position, error) {
	return nil, nil
}

func newTestService(t *testing.T, ex common.Exchange) (*Service, *db.Database) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "trade.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	svc := NewService(ex, database, position.NewManager(database), events.NewBus(), cache.NewPriceCache())
	return svc, database
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, _ := newTestService(t, &fakeExchange{})
	ctx := context.Background()

	tests := []struct {
		name  string
		req   common.OrderRequest
		field string
	}{
		{"missing symbol", common.OrderRequest{Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1}, "symbol"},
		{"bad side", common.OrderRequest{Symbol: "BTCUSDT", Side: "LONG", Type: common.OrderTypeMarket, Qty: 1}, "side"},
		{"zero qty", common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket}, "qty"},
		{"limit without price", common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: 1}, "price"},
		{"stop without trigger", common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeStopLoss, Qty: 1}, "stopPrice"},
		{"stop limit without price", common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeStopLossLimit, Qty: 1, StopPrice: 48000}, "price"},
		{"oco without trigger", common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeOCO, Qty: 1, Price: 52000}, "stopPrice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(ctx, tt.req)
			var verr *common.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestPlaceOrderPersistsAndFills(t *testing.T) {
	ex := &fakeExchange{
		placeResult: common.Order{
			ExchangeOrderID: "ex-1",
			Exchange:        common.ExchangeBinance,
			Symbol:          "BTCUSDT",
			Side:            common.SideBuy,
			Type:            common.OrderTypeMarket,
			Qty:             1,
			FilledQty:       1,
			AvgPrice:        50000,
			State:           common.StateFilled,
		},
	}
	svc, database := newTestService(t, ex)
	ctx := context.Background()

	placed, err := svc.PlaceOrder(ctx, common.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeMarket,
		Qty:    1,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if placed.ClientID == "" {
		t.Fatal("expected generated client id")
	}

	stored, err := database.GetOrder(ctx, placed.ClientID)
	if err != nil {
		t.Fatalf("get stored order: %v", err)
	}
	if stored.State != "filled" || stored.ExchangeOrderID != "ex-1" || stored.AvgPrice != 50000 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	pos := svc.Positions().Get("BTCUSDT", common.PositionLong)
	if pos.Qty != 1 || pos.EntryPrice != 50000 {
		t.Fatalf("position = %+v, want qty 1 entry 50000", pos)
	}
}

func TestPlaceOrderRejectedByExchange(t *testing.T) {
	ex := &fakeExchange{placeErr: &common.ExchangeError{Exchange: common.ExchangeBinance, Op: "order", Code: "-2010", Msg: "insufficient balance"}}
	svc, database := newTestService(t, ex)
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, common.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		Qty:      1,
		ClientID: "c-reject",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	stored, err := database.GetOrder(ctx, "c-reject")
	if err != nil {
		t.Fatalf("rejected order should still be stored: %v", err)
	}
	if stored.State != "rejected" {
		t.Fatalf("state = %q, want rejected", stored.State)
	}
}

func TestCancelOrder(t *testing.T) {
	ex := &fakeExchange{
		placeResult: common.Order{
			ExchangeOrderID: "ex-2",
			Symbol:          "BTCUSDT",
			Side:            common.SideBuy,
			Type:            common.OrderTypeLimit,
			Price:           40000,
			Qty:             1,
			State:           common.StateOpen,
		},
	}
	svc, database := newTestService(t, ex)
	ctx := context.Background()

	placed, err := svc.PlaceOrder(ctx, common.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeLimit,
		Price:  40000,
		Qty:    1,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if err := svc.CancelOrder(ctx, placed.ClientID); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if len(ex.canceled) != 1 || ex.canceled[0] != "ex-2" {
		t.Fatalf("exchange cancel calls = %v", ex.canceled)
	}
	stored, _ := database.GetOrder(ctx, placed.ClientID)
	if stored.State != "canceled" {
		t.Fatalf("state = %q, want canceled", stored.State)
	}

	// A terminal order cannot be canceled again.
	err = svc.CancelOrder(ctx, placed.ClientID)
	var serr *common.StateError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StateError, got %v", err)
	}
}

func TestPlaceStopOrderPersistsTrigger(t *testing.T) {
	ex := &fakeExchange{
		placeResult: common.Order{
			ExchangeOrderID: "ex-5",
			Symbol:          "BTCUSDT",
			Side:            common.SideSell,
			Type:            common.OrderTypeStopLoss,
			Qty:             1,
			State:           common.StateOpen,
		},
	}
	svc, database := newTestService(t, ex)
	ctx := context.Background()

	// A market stop needs a trigger price but no limit price.
	placed, err := svc.PlaceOrder(ctx, common.OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      common.SideSell,
		Type:      common.OrderTypeStopLoss,
		Qty:       1,
		StopPrice: 48000,
	})
	if err != nil {
		t.Fatalf("place stop order: %v", err)
	}

	stored, err := database.GetOrder(ctx, placed.ClientID)
	if err != nil {
		t.Fatalf("get stored order: %v", err)
	}
	if stored.StopPrice != 48000 {
		t.Fatalf("stored stop price = %v, want 48000", stored.StopPrice)
	}
}

func TestClosePositionRealizesPnL(t *testing.T) {
	ex := &fakeExchange{
		placeResult: common.Order{
			ExchangeOrderID: "ex-6",
			Symbol:          "BTCUSDT",
			Side:            common.SideSell,
			Type:            common.OrderTypeMarket,
			Qty:             1,
			FilledQty:       1,
			AvgPrice:        51000,
			State:           common.StateFilled,
		},
	}
	svc, _ := newTestService(t, ex)
	ctx := context.Background()

	svc.Positions().ApplyTrade(ctx, "BTCUSDT", common.SideBuy, 1, 50000)

	placed, err := svc.ClosePosition(ctx, "BTCUSDT", common.PositionLong, "")
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	if placed.Side != common.SideSell {
		t.Fatalf("close order side = %s, want SELL", placed.Side)
	}
	if len(ex.placed) != 1 || ex.placed[0].Qty != 1 {
		t.Fatalf("exchange requests = %+v, want one sell of qty 1", ex.placed)
	}

	long := svc.Positions().Get("BTCUSDT", common.PositionLong)
	if long.Qty != 0 {
		t.Fatalf("long qty after close = %v, want 0", long.Qty)
	}
	if long.RealizedPnL != 1000 {
		t.Fatalf("realized = %v, want 1000", long.RealizedPnL)
	}
	// The close fill must not surface as a fresh short.
	short := svc.Positions().Get("BTCUSDT", common.PositionShort)
	if short.Qty != 0 {
		t.Fatalf("close fill opened a short: %+v", short)
	}
}

func TestClosePositionWithoutExposure(t *testing.T) {
	svc, _ := newTestService(t, &fakeExchange{})

	_, err := svc.ClosePosition(context.Background(), "BTCUSDT", common.PositionLong, "")
	var verr *common.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSyncOrderStatusAppliesFillDelta(t *testing.T) {
	ex := &fakeExchange{
		placeResult: common.Order{
			ExchangeOrderID: "ex-3",
			Symbol:          "BTCUSDT",
			Side:            common.SideBuy,
			Type:            common.OrderTypeLimit,
			Price:           50000,
			Qty:             2,
			State:           common.StateOpen,
		},
	}
	svc, _ := newTestService(t, ex)
	ctx := context.Background()

	placed, err := svc.PlaceOrder(ctx, common.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeLimit,
		Price:  50000,
		Qty:    2,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	// Venue reports a partial fill with no average price; the limit price
	// is the fallback.
	ex.getResult = common.Order{
		ExchangeOrderID: "ex-3",
		Symbol:          "BTCUSDT",
		Side:            common.SideBuy,
		Type:            common.OrderTypeLimit,
		Price:           50000,
		Qty:             2,
		FilledQty:       1,
		State:           common.StatePartiallyFilled,
	}
	synced, err := svc.SyncOrderStatus(ctx, placed.ClientID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if synced.State != common.StatePartiallyFilled {
		t.Fatalf("state = %s, want partially_filled", synced.State)
	}
	pos := svc.Positions().Get("BTCUSDT", common.PositionLong)
	if pos.Qty != 1 || pos.EntryPrice != 50000 {
		t.Fatalf("position = %+v, want qty 1 entry 50000", pos)
	}

	// Second sync reports the rest filled; only the delta is applied.
	ex.getResult.FilledQty = 2
	ex.getResult.AvgPrice = 50100
	ex.getResult.State = common.StateFilled
	if _, err := svc.SyncOrderStatus(ctx, placed.ClientID); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	pos = svc.Positions().Get("BTCUSDT", common.PositionLong)
	if pos.Qty != 2 {
		t.Fatalf("qty = %v, want 2", pos.Qty)
	}
}

func TestHandleOrderUpdateUnknownOrder(t *testing.T) {
	svc, _ := newTestService(t, &fakeExchange{})
	// Unknown orders are dropped without panicking.
	svc.HandleOrderUpdate(context.Background(), common.Order{ClientID: "nobody"})
}
