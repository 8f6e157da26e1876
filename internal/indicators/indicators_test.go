package indicators

import (
	"math"
	"testing"

	"quantdesk/pkg/exchanges/common"
)

func candle(high, low, close float64) common.Kline {
	return common.Kline{High: high, Low: low, Close: close, Closed: true}
}

func TestTrueRange(t *testing.T) {
	tests := []struct {
		name      string
		k         common.Kline
		prevClose float64
		want      float64
	}{
		{"plain range", candle(105, 100, 102), 101, 5},
		{"gap up", candle(120, 115, 118), 100, 20},
		{"gap down", candle(90, 85, 88), 100, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrueRange(tt.k, tt.prevClose); got != tt.want {
				t.Fatalf("TrueRange = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestATR(t *testing.T) {
	candles := []common.Kline{
		candle(101, 99, 100),
		candle(102, 100, 101),
		candle(103, 101, 102),
		candle(104, 102, 103),
	}

	atr, ok := ATR(candles, 3)
	if !ok {
		t.Fatal("expected enough history")
	}
	// each true range is 2
	if math.Abs(atr-2) > 1e-9 {
		t.Fatalf("ATR = %v, want 2", atr)
	}

	if _, ok := ATR(candles[:3], 3); ok {
		t.Fatal("expected ok=false with period+0 candles")
	}
	if _, ok := ATR(candles, 0); ok {
		t.Fatal("expected ok=false with zero period")
	}
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if got := SMA(values, 3); got != 4 {
		t.Fatalf("SMA = %v, want 4", got)
	}
	if got := SMA(values, 6); got != 0 {
		t.Fatalf("SMA short window = %v, want 0", got)
	}
}
