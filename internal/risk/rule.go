// Package risk implements the pluggable risk rules, their configuration
// store and the monitor loop that evaluates them against live account state.
package risk

import (
	"time"

	"quantdesk/pkg/exchanges/common"
)

// Action is what a triggered rule asks the monitor to do. Actions form a
// severity ladder; when several rules fire in one pass only the most severe
// action runs.
type Action string

const (
	ActionLogOnly        Action = "log_only"
	ActionNotify         Action = "notify"
	ActionPauseStrategy  Action = "pause_strategy"
	ActionClosePositions Action = "close_positions"
	ActionEmergencyStop  Action = "emergency_stop"
)

// Severity orders actions from harmless to catastrophic.
func (a Action) Severity() int {
	switch a {
	case ActionNotify:
		return 1
	case ActionPauseStrategy:
		return 2
	case ActionClosePositions:
		return 3
	case ActionEmergencyStop:
		return 4
	default:
		return 0
	}
}

// Violation describes one triggered rule.
type Violation struct {
	Rule         string
	Action       Action
	Symbol       string
	Message      string
	CurrentValue float64
	Threshold    float64
}

// Snapshot is the account state a rule evaluates against. Prices maps
// symbol to the latest mark price; a missing entry means no fresh price.
// DayPnL is the realized PnL accumulated since the daily reset.
type Snapshot struct {
	Balances   []common.Balance
	Positions  []common.Position
	OpenOrders []common.Order
	Prices     map[string]float64
	DayPnL     float64
	Now        time.Time
}

// Equity values the account: free balances plus the entry value and
// unrealized PnL of every open position.
func (s Snapshot) Equity() float64 {
	total := 0.0
	for _, b := range s.Balances {
		total += b.Total()
	}
	for _, p := range s.Positions {
		if p.Qty == 0 {
			continue
		}
		total += p.Qty * p.EntryPrice
		if mark, ok := s.Prices[p.Symbol]; ok && mark > 0 {
			if p.Side == common.PositionLong {
				total += (mark - p.EntryPrice) * p.Qty
			} else {
				total += (p.EntryPrice - mark) * p.Qty
			}
		}
	}
	return total
}

// Rule is one risk check. Evaluate returns nil when the rule passes.
// Implementations keep their own state (peaks, counters, kline windows) and
// must be safe for concurrent use with their record methods.
type Rule interface {
	Name() string
	Enabled() bool
	Evaluate(s Snapshot) *Violation
}
