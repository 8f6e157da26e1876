package risk

import (
	"fmt"
	"sync"
	"time"
)

// ConsecutiveLoss counts losing trades in a row. A winning trade resets the
// streak. After a trigger the rule stays quiet for the cooling window so one
// bad streak produces one alert, not one per monitor pass.
type ConsecutiveLoss struct {
	cfg ConsecutiveLossConfig

	mu        sync.Mutex
	streak    int
	cooledOff time.Time
}

func NewConsecutiveLoss(cfg ConsecutiveLossConfig) *ConsecutiveLoss {
	return &ConsecutiveLoss{cfg: cfg}
}

func (r *ConsecutiveLoss) Name() string  { return "consecutive_loss" }
func (r *ConsecutiveLoss) Enabled() bool { return r.cfg.Enabled }

// RecordTrade feeds one closed trade's realized PnL into the streak. The
// streak is frozen while the rule cools off, so trades settling during the
// pause don't retrigger it the moment the window ends.
func (r *ConsecutiveLoss) RecordTrade(now time.Time, pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Before(r.cooledOff) {
		return
	}
	if pnl < 0 {
		if -pnl >= r.cfg.MinLoss {
			r.streak++
		}
	} else if pnl > 0 {
		r.streak = 0
	}
}

// Streak returns the current run of losses.
func (r *ConsecutiveLoss) Streak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streak
}

func (r *ConsecutiveLoss) Evaluate(s Snapshot) *Violation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streak < r.cfg.MaxLosses {
		return nil
	}
	if s.Now.Before(r.cooledOff) {
		return nil
	}
	r.cooledOff = s.Now.Add(time.Duration(r.cfg.CoolingSeconds) * time.Second)

	return &Violation{
		Rule:         r.Name(),
		Action:       r.cfg.Action,
		Message:      fmt.Sprintf("%d consecutive losing trades, limit %d", r.streak, r.cfg.MaxLosses),
		CurrentValue: float64(r.streak),
		Threshold:    float64(r.cfg.MaxLosses),
	}
}
