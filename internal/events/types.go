package events

import (
	"quantdesk/pkg/exchanges/common"
)

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventTicker         Event = "market.ticker"
	EventKline          Event = "market.kline"
	EventOrderUpdate    Event = "trade.order_update"
	EventPositionChange Event = "trade.position_change"
	EventRiskAlert      Event = "risk.alert"
	EventEmergencyStop  Event = "risk.emergency_stop"
	EventStrategyPaused Event = "strategy.paused"
)

// OrderUpdate is the payload for EventOrderUpdate.
type OrderUpdate struct {
	Order common.Order `json:"order"`
}

// PositionChange is the payload for EventPositionChange.
type PositionChange struct {
	Position common.Position `json:"position"`
}

// RiskAlert is the payload for EventRiskAlert.
type RiskAlert struct {
	Rule         string  `json:"rule"`
	Severity     int     `json:"severity"`
	Action       string  `json:"action"`
	Symbol       string  `json:"symbol,omitempty"`
	Message      string  `json:"message"`
	CurrentValue float64 `json:"current_value"`
	Threshold    float64 `json:"threshold"`
}

// EmergencyStop is the payload for EventEmergencyStop.
type EmergencyStop struct {
	Reason            string   `json:"reason"`
	StrategiesStopped int      `json:"strategies_stopped"`
	OrdersCanceled    int      `json:"orders_canceled"`
	PositionsClosed   int      `json:"positions_closed"`
	AlertSent         bool     `json:"alert_sent"`
	Errors            []string `json:"errors,omitempty"`
}
