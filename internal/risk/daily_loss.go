package risk

import (
	"fmt"
	"sync"
	"time"
)

// DailyLoss accumulates realized PnL over the trading day and triggers when
// the day's loss exceeds the configured amount. The day rolls over at the
// configured reset time, not at midnight, so it can align with an exchange's
// settlement schedule.
type DailyLoss struct {
	cfg DailyLossConfig

	mu  sync.Mutex
	day string
	pnl float64
}

func NewDailyLoss(cfg DailyLossConfig) *DailyLoss {
	return &DailyLoss{cfg: cfg}
}

func (r *DailyLoss) Name() string  { return "daily_loss" }
func (r *DailyLoss) Enabled() bool { return r.cfg.Enabled }

// tradingDay maps a wall-clock time to its trading-day key. Times before
// the reset moment still belong to the previous day.
func (r *DailyLoss) tradingDay(now time.Time) string {
	reset := time.Date(now.Year(), now.Month(), now.Day(), r.cfg.ResetHour, r.cfg.ResetMinute, 0, 0, now.Location())
	if now.Before(reset) {
		return now.AddDate(0, 0, -1).Format("2006-01-02")
	}
	return now.Format("2006-01-02")
}

// RecordTrade folds one closed trade's realized PnL into the current day.
func (r *DailyLoss) RecordTrade(now time.Time, pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := r.tradingDay(now)
	if day != r.day {
		r.day = day
		r.pnl = 0
	}
	r.pnl += pnl
}

// DayPnL returns the accumulated realized PnL for the trading day at now.
func (r *DailyLoss) DayPnL(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tradingDay(now) != r.day {
		return 0
	}
	return r.pnl
}

func (r *DailyLoss) Evaluate(s Snapshot) *Violation {
	loss := -r.DayPnL(s.Now)
	if loss <= 0 || loss < r.cfg.MaxLoss {
		return nil
	}
	return &Violation{
		Rule:         r.Name(),
		Action:       r.cfg.Action,
		Message:      fmt.Sprintf("daily loss %.2f exceeds limit %.2f", loss, r.cfg.MaxLoss),
		CurrentValue: loss,
		Threshold:    r.cfg.MaxLoss,
	}
}
