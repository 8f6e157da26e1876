// Package reconciliation periodically re-reads open orders from the venue
// so the local book converges even when websocket updates were missed.
package reconciliation

import (
	"context"
	"log"
	"time"

	"quantdesk/internal/trade"
)

const DefaultInterval = 30 * time.Second

// Report summarizes one reconciliation pass.
type Report struct {
	Timestamp time.Time
	Checked   int
	Changed   int
	Errors    int
}

// Service drives periodic order-state reconciliation through the trade
// service, which already knows how to apply fill deltas.
type Service struct {
	trades   *trade.Service
	interval time.Duration
}

func NewService(trades *trade.Service, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{trades: trades, interval: interval}
}

// Start begins periodic reconciliation until ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := s.Reconcile(ctx)
				if err != nil {
					log.Printf("reconciliation error: %v", err)
					continue
				}
				if report.Changed > 0 || report.Errors > 0 {
					log.Printf("reconciliation: checked=%d changed=%d errors=%d",
						report.Checked, report.Changed, report.Errors)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("reconciliation service started (interval: %v)", s.interval)
}

// Reconcile syncs every locally-open order against the venue.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	open, err := s.trades.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Timestamp: time.Now(), Checked: len(open)}
	for _, o := range open {
		updated, err := s.trades.SyncOrderStatus(ctx, o.ClientID)
		if err != nil {
			report.Errors++
			log.Printf("reconcile %s: %v", o.ClientID, err)
			continue
		}
		if updated.State != o.State || updated.FilledQty != o.FilledQty {
			report.Changed++
		}
	}
	return report, nil
}
