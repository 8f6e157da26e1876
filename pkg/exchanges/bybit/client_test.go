package bybit

import (
	"context"
	"errors"
	"testing"

	"quantdesk/pkg/exchanges/common"
)

var _ common.Exchange = (*Client)(nil)

func TestPlaceOrderRejectsUnsupportedTypes(t *testing.T) {
	c := New(common.Credentials{APIKey: "k", APISecret: "s"})
	ctx := context.Background()

	for _, typ := range []common.OrderType{
		common.OrderTypeStopLoss,
		common.OrderTypeStopLossLimit,
		common.OrderTypeTakeProfit,
		common.OrderTypeTakeProfitLimit,
		common.OrderTypeOCO,
	} {
		_, err := c.PlaceOrder(ctx, common.OrderRequest{
			Symbol:    "BTCUSDT",
			Side:      common.SideSell,
			Type:      typ,
			Qty:       1,
			Price:     52000,
			StopPrice: 48000,
		})
		var verr *common.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("type %s: expected ValidationError, got %v", typ, err)
		}
	}
}
