// Package emergency implements the kill switch: stop strategies, cancel
// working orders, flatten positions and alert the operator. Each step runs
// even when earlier ones fail, because a partial shutdown is still better
// than none.
package emergency

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"quantdesk/internal/events"
	"quantdesk/internal/notify"
	"quantdesk/internal/strategy"
	"quantdesk/internal/trade"
)

// Report summarizes one emergency stop execution.
type Report struct {
	Reason            string
	StrategiesStopped int
	OrdersCanceled    int
	PositionsClosed   int
	AlertSent         bool
	Errors            []string
}

// Service wires the kill switch to the rest of the system.
type Service struct {
	trades     *trade.Service
	strategies *strategy.Registry
	notifier   notify.Notifier
	bus        *events.Bus
}

func NewService(trades *trade.Service, strategies *strategy.Registry, notifier notify.Notifier, bus *events.Bus) *Service {
	return &Service{
		trades:     trades,
		strategies: strategies,
		notifier:   notifier,
		bus:        bus,
	}
}

// Execute runs the full shutdown sequence and reports what happened.
func (s *Service) Execute(ctx context.Context, reason string) Report {
	log.Printf("emergency: STOP triggered: %s", reason)
	report := Report{Reason: reason}

	report.StrategiesStopped = s.strategies.StopAll()

	s.cancelOpenOrders(ctx, &report)
	s.closePositions(ctx, &report)

	title := "EMERGENCY STOP"
	msg := fmt.Sprintf("%s | strategies stopped: %d, orders canceled: %d, positions closed: %d",
		reason, report.StrategiesStopped, report.OrdersCanceled, report.PositionsClosed)
	if err := s.notifier.Send(ctx, title, msg); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("alert: %v", err))
	} else {
		report.AlertSent = true
	}

	s.bus.Publish(events.EventEmergencyStop, events.EmergencyStop{
		Reason:            report.Reason,
		StrategiesStopped: report.StrategiesStopped,
		OrdersCanceled:    report.OrdersCanceled,
		PositionsClosed:   report.PositionsClosed,
		AlertSent:         report.AlertSent,
		Errors:            report.Errors,
	})
	return report
}

func (s *Service) cancelOpenOrders(ctx context.Context, report *Report) {
	open, err := s.trades.ListOpenOrders(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list open orders: %v", err))
		return
	}
	for _, o := range open {
		if err := s.trades.CancelOrder(ctx, o.ClientID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("cancel %s: %v", o.ClientID, err))
			continue
		}
		report.OrdersCanceled++
	}
}

// closePositions flattens every open position with a market IOC order in
// the opposite direction.
func (s *Service) closePositions(ctx context.Context, report *Report) {
	for _, p := range s.trades.Positions().Open() {
		_, err := s.trades.ClosePosition(ctx, p.Symbol, p.Side, "EMERGENCY-CLOSE-"+uuid.NewString())
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("close %s %s: %v", p.Symbol, p.Side, err))
			continue
		}
		report.PositionsClosed++
	}
}
