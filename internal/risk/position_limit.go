package risk

import (
	"fmt"

	"quantdesk/pkg/exchanges/common"
)

// PositionLimit caps exposure three ways: per-position notional, total
// book notional, and one direction's share of the book. A zero cap
// disables that check; a book with no exposure has no direction to be
// over-weighted in.
type PositionLimit struct {
	cfg PositionLimitConfig
}

func NewPositionLimit(cfg PositionLimitConfig) *PositionLimit {
	return &PositionLimit{cfg: cfg}
}

func (r *PositionLimit) Name() string  { return "position_limit" }
func (r *PositionLimit) Enabled() bool { return r.cfg.Enabled }

func (r *PositionLimit) Evaluate(s Snapshot) *Violation {
	var long, short float64
	for _, p := range s.Positions {
		if p.Qty == 0 {
			continue
		}
		notional := p.Qty * p.EntryPrice
		if r.cfg.MaxPositionValue > 0 && notional > r.cfg.MaxPositionValue {
			return &Violation{
				Rule:         r.Name(),
				Action:       r.cfg.Action,
				Symbol:       p.Symbol,
				Message:      fmt.Sprintf("%s %s position is %.2f, limit %.2f", p.Symbol, p.Side, notional, r.cfg.MaxPositionValue),
				CurrentValue: notional,
				Threshold:    r.cfg.MaxPositionValue,
			}
		}
		if p.Side == common.PositionLong {
			long += notional
		} else {
			short += notional
		}
	}

	total := long + short
	if r.cfg.MaxTotalValue > 0 && total > r.cfg.MaxTotalValue {
		return &Violation{
			Rule:         r.Name(),
			Action:       r.cfg.Action,
			Message:      fmt.Sprintf("total exposure is %.2f, limit %.2f", total, r.cfg.MaxTotalValue),
			CurrentValue: total,
			Threshold:    r.cfg.MaxTotalValue,
		}
	}
	// No exposure, no direction to be over-weighted in.
	if total == 0 {
		return nil
	}
	ratio := long / total
	if short > long {
		ratio = short / total
	}

	// At the limit exactly is still acceptable.
	if ratio <= r.cfg.MaxRatio {
		return nil
	}

	side := "long"
	if short > long {
		side = "short"
	}
	return &Violation{
		Rule:         r.Name(),
		Action:       r.cfg.Action,
		Message:      fmt.Sprintf("%s exposure is %.1f%% of the book, limit %.1f%%", side, ratio*100, r.cfg.MaxRatio*100),
		CurrentValue: ratio,
		Threshold:    r.cfg.MaxRatio,
	}
}
