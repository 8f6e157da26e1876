package position

import (
	"context"
	"math"
	"testing"

	"quantdesk/pkg/exchanges/common"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWeightedAverageEntry(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	m.ApplyTrade(ctx, "BTCUSDT", common.SideBuy, 1, 50000)
	m.ApplyTrade(ctx, "BTCUSDT", common.SideBuy, 1, 51000)

	p := m.Get("BTCUSDT", common.PositionLong)
	if !almostEqual(p.Qty, 2) {
		t.Fatalf("qty = %v, want 2", p.Qty)
	}
	if !almostEqual(p.EntryPrice, 50500) {
		t.Fatalf("entry = %v, want 50500", p.EntryPrice)
	}
}

func TestSellWhileLongOpensShort(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	m.ApplyTrade(ctx, "BTCUSDT", common.SideBuy, 1, 50000)
	m.ApplyTrade(ctx, "BTCUSDT", common.SideSell, 1, 51000)

	long := m.Get("BTCUSDT", common.PositionLong)
	if !almostEqual(long.Qty, 1) || !almostEqual(long.EntryPrice, 50000) {
		t.Fatalf("long = %+v, want qty 1 entry 50000", long)
	}
	if long.RealizedPnL != 0 {
		t.Fatalf("long realized = %v, want 0", long.RealizedPnL)
	}

	short := m.Get("BTCUSDT", common.PositionShort)
	if !almostEqual(short.Qty, 1) || !almostEqual(short.EntryPrice, 51000) {
		t.Fatalf("short = %+v, want qty 1 entry 51000", short)
	}
	if short.RealizedPnL != 0 {
		t.Fatalf("short realized = %v, want 0", short.RealizedPnL)
	}
}

func TestFullCloseKeepsRecord(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	m.ApplyTrade(ctx, "ETHUSDT", common.SideBuy, 3, 3000)
	m.Close(ctx, "ETHUSDT", common.PositionLong, 3100)

	p := m.Get("ETHUSDT", common.PositionLong)
	if p.Qty != 0 {
		t.Fatalf("qty after close = %v, want 0", p.Qty)
	}
	if !almostEqual(p.RealizedPnL, 300) {
		t.Fatalf("realized = %v, want 300", p.RealizedPnL)
	}
	if len(m.Open()) != 0 {
		t.Fatalf("closed position should not appear in Open()")
	}
	if len(m.List()) != 1 {
		t.Fatalf("closed position should remain in List()")
	}
}

func TestLongAndShortCoexist(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	m.ApplyTrade(ctx, "BTCUSDT", common.SideBuy, 1, 50000)
	m.ApplyTrade(ctx, "BTCUSDT", common.SideSell, 1.5, 51000)

	long := m.Get("BTCUSDT", common.PositionLong)
	short := m.Get("BTCUSDT", common.PositionShort)
	if !almostEqual(long.Qty, 1) || !almostEqual(long.EntryPrice, 50000) {
		t.Fatalf("long = %+v, want qty 1 entry 50000", long)
	}
	if !almostEqual(short.Qty, 1.5) || !almostEqual(short.EntryPrice, 51000) {
		t.Fatalf("short = %+v, want qty 1.5 entry 51000", short)
	}
	if got := len(m.Open()); got != 2 {
		t.Fatalf("open positions = %d, want 2", got)
	}
}

func TestShortUnrealizedPnL(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	m.ApplyTrade(ctx, "BTCUSDT", common.SideSell, 1, 50000)
	if got := m.UnrealizedPnL("BTCUSDT", common.PositionShort, 48000); !almostEqual(got, 2000) {
		t.Fatalf("short upl = %v, want 2000", got)
	}
	if got := m.UnrealizedPnL("BTCUSDT", common.PositionShort, 52000); !almostEqual(got, -2000) {
		t.Fatalf("short upl = %v, want -2000", got)
	}
}

func TestIgnoresInvalidTrades(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	if touched := m.ApplyTrade(ctx, "BTCUSDT", common.SideBuy, 0, 50000); touched != nil {
		t.Fatalf("zero qty should touch nothing, got %+v", touched)
	}
	if touched := m.ApplyTrade(ctx, "BTCUSDT", common.SideBuy, 1, 0); touched != nil {
		t.Fatalf("zero price should touch nothing, got %+v", touched)
	}
}
