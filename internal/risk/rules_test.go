package risk

import (
	"path/filepath"
	"testing"
	"time"

	"quantdesk/pkg/exchanges/common"
)

func snapshotAt(now time.Time, positions ...common.Position) Snapshot {
	return Snapshot{
		Positions: positions,
		Prices:    make(map[string]float64),
		Now:       now,
	}
}

func TestPositionLimitBalancedBook(t *testing.T) {
	r := NewPositionLimit(PositionLimitConfig{Enabled: true, MaxRatio: 0.7, Action: ActionNotify})

	s := snapshotAt(time.Now(),
		common.Position{Symbol: "BTCUSDT", Side: common.PositionLong, Qty: 1, EntryPrice: 50000},
		common.Position{Symbol: "BTCUSDT", Side: common.PositionShort, Qty: 1, EntryPrice: 50000},
	)
	if v := r.Evaluate(s); v != nil {
		t.Fatalf("balanced book should not trigger: %+v", v)
	}
}

func TestPositionLimitSkewTriggers(t *testing.T) {
	r := NewPositionLimit(PositionLimitConfig{Enabled: true, MaxRatio: 0.7, Action: ActionNotify})

	s := snapshotAt(time.Now(),
		common.Position{Symbol: "BTCUSDT", Side: common.PositionLong, Qty: 8, EntryPrice: 50000},
		common.Position{Symbol: "BTCUSDT", Side: common.PositionShort, Qty: 2, EntryPrice: 50000},
	)
	v := r.Evaluate(s)
	if v == nil {
		t.Fatal("80% long book should trigger at 0.7")
	}
	if v.CurrentValue != 0.8 {
		t.Fatalf("ratio = %v, want 0.8", v.CurrentValue)
	}
}

func TestPositionLimitAtLimitExactly(t *testing.T) {
	r := NewPositionLimit(PositionLimitConfig{Enabled: true, MaxRatio: 0.8, Action: ActionNotify})

	s := snapshotAt(time.Now(),
		common.Position{Symbol: "BTCUSDT", Side: common.PositionLong, Qty: 8, EntryPrice: 50000},
		common.Position{Symbol: "BTCUSDT", Side: common.PositionShort, Qty: 2, EntryPrice: 50000},
	)
	if v := r.Evaluate(s); v != nil {
		t.Fatalf("exactly at the limit should not trigger: %+v", v)
	}
}

func TestPositionLimitEmptyBookIsNeutral(t *testing.T) {
	r := NewPositionLimit(PositionLimitConfig{Enabled: true, MaxRatio: 0.4, Action: ActionNotify})
	if v := r.Evaluate(snapshotAt(time.Now())); v != nil {
		t.Fatalf("empty book should not trigger even with a tight limit: %+v", v)
	}
}

func TestPositionLimitNotionalCaps(t *testing.T) {
	r := NewPositionLimit(PositionLimitConfig{
		Enabled:          true,
		MaxRatio:         1,
		MaxPositionValue: 60000,
		MaxTotalValue:    100000,
		Action:           ActionNotify,
	})

	// single position over its cap
	v := r.Evaluate(snapshotAt(time.Now(),
		common.Position{Symbol: "BTCUSDT", Side: common.PositionLong, Qty: 1.5, EntryPrice: 50000},
	))
	if v == nil || v.Symbol != "BTCUSDT" {
		t.Fatalf("75000 notional should breach the 60000 per-position cap: %+v", v)
	}

	// individually fine, collectively over the total cap
	v = r.Evaluate(snapshotAt(time.Now(),
		common.Position{Symbol: "BTCUSDT", Side: common.PositionLong, Qty: 1, EntryPrice: 50000},
		common.Position{Symbol: "ETHUSDT", Side: common.PositionShort, Qty: 20, EntryPrice: 3000},
	))
	if v == nil || v.CurrentValue != 110000 {
		t.Fatalf("110000 total should breach the 100000 cap: %+v", v)
	}

	// under both caps
	v = r.Evaluate(snapshotAt(time.Now(),
		common.Position{Symbol: "BTCUSDT", Side: common.PositionLong, Qty: 1, EntryPrice: 50000},
		common.Position{Symbol: "ETHUSDT", Side: common.PositionShort, Qty: 10, EntryPrice: 3000},
	))
	if v != nil {
		t.Fatalf("80000 total under caps should not trigger: %+v", v)
	}
}

func TestDrawdownLimit(t *testing.T) {
	r := NewDrawdownLimit(DrawdownLimitConfig{Enabled: true, MaxDrawdown: 0.10, Action: ActionClosePositions})

	balance := func(total float64) Snapshot {
		return Snapshot{
			Balances: []common.Balance{{Asset: "USDT", Free: total}},
			Prices:   make(map[string]float64),
			Now:      time.Now(),
		}
	}

	// First observation sets the peak.
	if v := r.Evaluate(balance(10000)); v != nil {
		t.Fatalf("first pass should not trigger: %+v", v)
	}
	// 5% down: under the limit.
	if v := r.Evaluate(balance(9500)); v != nil {
		t.Fatalf("5%% drawdown should not trigger: %+v", v)
	}
	// 15% down from the 10000 peak: fires.
	v := r.Evaluate(balance(8500))
	if v == nil {
		t.Fatal("15% drawdown should trigger at 10%")
	}
	if v.CurrentValue != 0.15 {
		t.Fatalf("drawdown = %v, want 0.15", v.CurrentValue)
	}

	// A new high resets the baseline.
	if v := r.Evaluate(balance(12000)); v != nil {
		t.Fatalf("new peak should not trigger: %+v", v)
	}
	if v := r.Evaluate(balance(11000)); v != nil {
		t.Fatalf("8.3%% off the new peak should not trigger: %+v", v)
	}
}

func TestDrawdownNegativeEquityIsTotal(t *testing.T) {
	r := NewDrawdownLimit(DrawdownLimitConfig{Enabled: true, MaxDrawdown: 0.5, Action: ActionEmergencyStop})

	s := Snapshot{Balances: []common.Balance{{Asset: "USDT", Free: 1000}}, Now: time.Now()}
	r.Evaluate(s)

	s.Balances[0].Free = -50
	v := r.Evaluate(s)
	if v == nil || v.CurrentValue != 1 {
		t.Fatalf("negative equity should report 100%% drawdown, got %+v", v)
	}
}

func TestConsecutiveLossStreak(t *testing.T) {
	r := NewConsecutiveLoss(ConsecutiveLossConfig{Enabled: true, MaxLosses: 3, CoolingSeconds: 3600, Action: ActionPauseStrategy})
	now := time.Now()

	r.RecordTrade(now, -10)
	r.RecordTrade(now, -5)
	if v := r.Evaluate(snapshotAt(now)); v != nil {
		t.Fatalf("two losses should not trigger: %+v", v)
	}

	r.RecordTrade(now, -8)
	v := r.Evaluate(snapshotAt(now))
	if v == nil {
		t.Fatal("third loss should trigger")
	}
	if v.CurrentValue != 3 {
		t.Fatalf("streak = %v, want 3", v.CurrentValue)
	}

	// Inside the cooling window the rule stays quiet.
	if v := r.Evaluate(snapshotAt(now.Add(30 * time.Minute))); v != nil {
		t.Fatalf("cooling window should suppress: %+v", v)
	}
	// After the window, a persisting streak fires again.
	if v := r.Evaluate(snapshotAt(now.Add(61 * time.Minute))); v == nil {
		t.Fatal("expired cooling window should allow re-trigger")
	}
}

func TestConsecutiveLossCoolingFreezesStreak(t *testing.T) {
	r := NewConsecutiveLoss(ConsecutiveLossConfig{Enabled: true, MaxLosses: 2, CoolingSeconds: 600, Action: ActionPauseStrategy})
	now := time.Now()

	r.RecordTrade(now, -10)
	r.RecordTrade(now, -10)
	if v := r.Evaluate(snapshotAt(now)); v == nil {
		t.Fatal("two losses should trigger")
	}

	// Trades settling during the cooling window leave the streak alone.
	r.RecordTrade(now.Add(time.Minute), -10)
	if got := r.Streak(); got != 2 {
		t.Fatalf("streak = %d, want 2 while cooling", got)
	}
	r.RecordTrade(now.Add(11*time.Minute), -10)
	if got := r.Streak(); got != 3 {
		t.Fatalf("streak = %d, want 3 after cooling", got)
	}
}

func TestConsecutiveLossWinResets(t *testing.T) {
	r := NewConsecutiveLoss(ConsecutiveLossConfig{Enabled: true, MaxLosses: 2, CoolingSeconds: 3600, Action: ActionPauseStrategy})
	now := time.Now()

	r.RecordTrade(now, -10)
	r.RecordTrade(now, 20)
	r.RecordTrade(now, -5)
	if got := r.Streak(); got != 1 {
		t.Fatalf("streak = %d, want 1", got)
	}
	if v := r.Evaluate(snapshotAt(time.Now())); v != nil {
		t.Fatalf("streak below limit should not trigger: %+v", v)
	}
}

func TestConsecutiveLossIgnoresSmallLosses(t *testing.T) {
	r := NewConsecutiveLoss(ConsecutiveLossConfig{Enabled: true, MaxLosses: 2, MinLoss: 10, CoolingSeconds: 3600, Action: ActionPauseStrategy})
	now := time.Now()

	r.RecordTrade(now, -5) // under MinLoss, does not count
	r.RecordTrade(now, -15)
	if r.Streak() != 1 {
		t.Fatalf("streak = %d, want 1", r.Streak())
	}
	r.RecordTrade(now, -20)
	if v := r.Evaluate(snapshotAt(time.Now())); v == nil {
		t.Fatal("two qualifying losses should trigger")
	}
}

func TestDailyLossAtLimitTriggers(t *testing.T) {
	r := NewDailyLoss(DailyLossConfig{Enabled: true, MaxLoss: 100, ResetHour: 8, Action: ActionPauseStrategy})

	day := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	r.RecordTrade(day, -100)
	if v := r.Evaluate(snapshotAt(day)); v == nil {
		t.Fatal("loss equal to the limit should trigger")
	}
}

func TestDailyLossResetHour(t *testing.T) {
	r := NewDailyLoss(DailyLossConfig{Enabled: true, MaxLoss: 100, ResetHour: 8, Action: ActionPauseStrategy})

	day := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	r.RecordTrade(day, -150)

	v := r.Evaluate(snapshotAt(day.Add(time.Hour)))
	if v == nil {
		t.Fatal("150 loss should trigger at limit 100")
	}
	if v.CurrentValue != 150 {
		t.Fatalf("loss = %v, want 150", v.CurrentValue)
	}

	// 07:00 next morning is still the same trading day.
	if r.DayPnL(day.Add(19*time.Hour)) != -150 {
		t.Fatal("pre-reset time should still see the loss")
	}
	// After the 08:00 reset the slate is clean.
	nextDay := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if r.DayPnL(nextDay) != 0 {
		t.Fatal("post-reset day should start at zero")
	}
	if v := r.Evaluate(snapshotAt(nextDay)); v != nil {
		t.Fatalf("new trading day should not trigger: %+v", v)
	}
}

func TestVolatilityLimit(t *testing.T) {
	r := NewVolatilityLimit(VolatilityLimitConfig{Enabled: true, MaxRatio: 0.019, ATRPeriod: 3, Action: ActionNotify})

	kline := func(high, low, close float64) common.Kline {
		return common.Kline{Symbol: "BTCUSDT", High: high, Low: low, Close: close, Closed: true}
	}

	// Too little history: period+1 candles are required.
	r.RecordKline(kline(101, 99, 100))
	r.RecordKline(kline(102, 100, 101))
	r.RecordKline(kline(103, 101, 102))
	if v := r.Evaluate(snapshotAt(time.Now())); v != nil {
		t.Fatalf("3 candles with period 3 should not evaluate: %+v", v)
	}

	// TR is 2 per candle, ATR 2, close 103: ratio ~1.94%, at or above 1.9%.
	r.RecordKline(kline(104, 102, 103))
	v := r.Evaluate(snapshotAt(time.Now()))
	if v == nil {
		t.Fatal("ATR ratio above the limit should trigger")
	}
	if v.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %q, want BTCUSDT", v.Symbol)
	}
}

func TestVolatilityLimitIgnoresOpenCandles(t *testing.T) {
	r := NewVolatilityLimit(VolatilityLimitConfig{Enabled: true, MaxRatio: 0.001, ATRPeriod: 1, Action: ActionNotify})

	r.RecordKline(common.Kline{Symbol: "BTCUSDT", High: 101, Low: 99, Close: 100, Closed: false})
	r.RecordKline(common.Kline{Symbol: "BTCUSDT", High: 101, Low: 99, Close: 100, Closed: false})
	if v := r.Evaluate(snapshotAt(time.Now())); v != nil {
		t.Fatalf("open candles should not count: %+v", v)
	}
}

func TestConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if !cfg.PositionLimit.Enabled || cfg.PositionLimit.MaxRatio != 0.8 {
		t.Fatalf("unexpected defaults: %+v", cfg.PositionLimit)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.yaml")
	cfg := DefaultConfig()
	cfg.DrawdownLimit.MaxDrawdown = 0.25
	cfg.VolatilityLimit.Enabled = true

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.DrawdownLimit.MaxDrawdown != 0.25 || !got.VolatilityLimit.Enabled {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestActionSeverityLadder(t *testing.T) {
	ladder := []Action{ActionLogOnly, ActionNotify, ActionPauseStrategy, ActionClosePositions, ActionEmergencyStop}
	for i, a := range ladder {
		if a.Severity() != i {
			t.Fatalf("severity of %s = %d, want %d", a, a.Severity(), i)
		}
	}
}
