package common

import (
	"testing"
	"time"
)

func TestSignHex(t *testing.T) {
	// RFC 4231 test case 2
	got := SignHex("what do ya want for nothing?", "Jefe")
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Fatalf("SignHex = %s, want %s", got, want)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{9, 32 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffDelay(tt.retry); got != tt.want {
			t.Fatalf("BackoffDelay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestStreamDropsOldestWhenFull(t *testing.T) {
	s := NewStream[int](2)
	ch, unsub := s.Subscribe()
	defer unsub()

	s.Publish(1)
	s.Publish(2)
	s.Publish(3)

	if got := <-ch; got != 2 {
		t.Fatalf("first = %d, want 2", got)
	}
	if got := <-ch; got != 3 {
		t.Fatalf("second = %d, want 3", got)
	}
}

func TestStreamUnsubscribeClosesChannel(t *testing.T) {
	s := NewStream[string](4)
	ch, unsub := s.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// publishing after unsubscribe must not panic
	s.Publish("late")
}

func TestParseInterval(t *testing.T) {
	if iv, err := ParseInterval("1m"); err != nil || iv != Interval1m {
		t.Fatalf("ParseInterval(1m) = %v, %v", iv, err)
	}
	if _, err := ParseInterval("7m"); err == nil {
		t.Fatal("expected error for unknown interval")
	}
}

func TestParseOrderType(t *testing.T) {
	for _, s := range []string{"MARKET", "LIMIT", "STOP_LOSS", "STOP_LOSS_LIMIT", "TAKE_PROFIT", "TAKE_PROFIT_LIMIT", "OCO", "oco"} {
		if _, err := ParseOrderType(s); err != nil {
			t.Fatalf("ParseOrderType(%s): %v", s, err)
		}
	}
	if _, err := ParseOrderType("TRAILING"); err == nil {
		t.Fatal("expected error for unknown order type")
	}
}

func TestPositionSideFor(t *testing.T) {
	if PositionSideFor(SideBuy) != PositionLong {
		t.Fatal("BUY should map to long")
	}
	if PositionSideFor(SideSell) != PositionShort {
		t.Fatal("SELL should map to short")
	}
}
