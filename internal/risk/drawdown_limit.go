package risk

import (
	"fmt"
	"sync"
)

// DrawdownLimit tracks the account's equity high-water mark and triggers
// when the retreat from it exceeds the configured fraction.
type DrawdownLimit struct {
	cfg DrawdownLimitConfig

	mu      sync.Mutex
	peak    float64
	hasPeak bool
}

func NewDrawdownLimit(cfg DrawdownLimitConfig) *DrawdownLimit {
	return &DrawdownLimit{cfg: cfg}
}

func (r *DrawdownLimit) Name() string  { return "drawdown_limit" }
func (r *DrawdownLimit) Enabled() bool { return r.cfg.Enabled }

// drawdown ratchets the peak and returns the current retreat as a fraction.
// A first observation sets the peak, so the first pass never triggers. A
// non-positive peak reports no drawdown; negative equity below a positive
// peak is a total (100%) drawdown.
func (r *DrawdownLimit) drawdown(equity float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasPeak {
		r.peak = equity
		r.hasPeak = true
		return 0
	}
	if equity > r.peak {
		r.peak = equity
		return 0
	}
	if r.peak <= 0 {
		return 0
	}
	if equity < 0 {
		return 1
	}
	return (r.peak - equity) / r.peak
}

func (r *DrawdownLimit) Evaluate(s Snapshot) *Violation {
	dd := r.drawdown(s.Equity())
	if dd <= r.cfg.MaxDrawdown {
		return nil
	}
	return &Violation{
		Rule:         r.Name(),
		Action:       r.cfg.Action,
		Message:      fmt.Sprintf("drawdown %.1f%% exceeds limit %.1f%%", dd*100, r.cfg.MaxDrawdown*100),
		CurrentValue: dd,
		Threshold:    r.cfg.MaxDrawdown,
	}
}
