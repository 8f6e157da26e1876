package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantdesk/internal/emergency"
	"quantdesk/internal/events"
	"quantdesk/internal/notify"
	"quantdesk/internal/strategy"
	"quantdesk/internal/trade"
	"quantdesk/pkg/db"
	"quantdesk/pkg/exchanges/common"
)

const DefaultMonitorInterval = 10 * time.Second

// Monitor periodically evaluates every enabled rule against a fresh account
// snapshot. Each violation is persisted and broadcast; of all actions
// requested in one pass, only the most severe runs.
type Monitor struct {
	rules      []Rule
	trades     *trade.Service
	db         *db.Database
	bus        *events.Bus
	notifier   notify.Notifier
	strategies *strategy.Registry
	emergency  *emergency.Service
	interval   time.Duration

	mu           sync.Mutex
	lastRealized map[string]float64
}

func NewMonitor(rules []Rule, trades *trade.Service, database *db.Database, bus *events.Bus,
	notifier notify.Notifier, strategies *strategy.Registry, emergencySvc *emergency.Service,
	interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{
		rules:        rules,
		trades:       trades,
		db:           database,
		bus:          bus,
		notifier:     notifier,
		strategies:   strategies,
		emergency:    emergencySvc,
		interval:     interval,
		lastRealized: make(map[string]float64),
	}
}

// Run blocks, evaluating rules on the interval and feeding market and trade
// events into stateful rules, until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	positionCh, unsubPos := m.bus.Subscribe(events.EventPositionChange, 128)
	defer unsubPos()
	klineCh, unsubKline := m.bus.Subscribe(events.EventKline, 256)
	defer unsubKline()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("risk: monitor started, interval %s, %d rules", m.interval, len(m.rules))
	for {
		select {
		case <-ctx.Done():
			log.Printf("risk: monitor stopped")
			return
		case payload := <-positionCh:
			if change, ok := payload.(events.PositionChange); ok {
				m.recordPosition(change.Position)
			}
		case payload := <-klineCh:
			if k, ok := payload.(common.Kline); ok {
				m.recordKline(k)
			}
		case <-ticker.C:
			m.Evaluate(ctx)
		}
	}
}

// recordPosition feeds realized PnL deltas into the loss-streak rules. Only
// reductions move realized PnL, so a delta means a trade closed.
func (m *Monitor) recordPosition(p common.Position) {
	key := p.Symbol + "|" + string(p.Side)

	m.mu.Lock()
	delta := p.RealizedPnL - m.lastRealized[key]
	m.lastRealized[key] = p.RealizedPnL
	m.mu.Unlock()

	if delta == 0 {
		return
	}
	now := time.Now()
	for _, rule := range m.rules {
		switch r := rule.(type) {
		case *ConsecutiveLoss:
			r.RecordTrade(now, delta)
		case *DailyLoss:
			r.RecordTrade(now, delta)
		}
	}
}

func (m *Monitor) recordKline(k common.Kline) {
	for _, rule := range m.rules {
		if r, ok := rule.(*VolatilityLimit); ok {
			r.RecordKline(k)
		}
	}
}

// Evaluate runs one monitoring pass.
func (m *Monitor) Evaluate(ctx context.Context) {
	snapshot := m.snapshot(ctx)

	var violations []*Violation
	for _, rule := range m.rules {
		if !rule.Enabled() {
			continue
		}
		v := m.evaluateRule(rule, snapshot)
		if v != nil {
			violations = append(violations, v)
		}
	}
	if len(violations) == 0 {
		return
	}

	var worst *Violation
	for _, v := range violations {
		m.handleViolation(ctx, v)
		if worst == nil || v.Action.Severity() > worst.Action.Severity() {
			worst = v
		}
	}
	m.act(ctx, worst)
}

// evaluateRule isolates rule panics so one broken rule cannot take down
// the monitor.
func (m *Monitor) evaluateRule(rule Rule, s Snapshot) (v *Violation) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("risk: rule %s panicked: %v", rule.Name(), r)
			v = nil
		}
	}()
	return rule.Evaluate(s)
}

func (m *Monitor) snapshot(ctx context.Context) Snapshot {
	s := Snapshot{
		Positions: m.trades.Positions().List(),
		Prices:    make(map[string]float64),
		Now:       time.Now(),
	}
	balances, err := m.trades.GetBalance(ctx)
	if err != nil {
		log.Printf("risk: fetch balances: %v", err)
	} else {
		s.Balances = balances
	}
	open, err := m.trades.ListOpenOrders(ctx)
	if err != nil {
		log.Printf("risk: list open orders: %v", err)
	} else {
		s.OpenOrders = open
	}
	for _, p := range s.Positions {
		if price := m.trades.MarkPrice(p.Symbol); price > 0 {
			s.Prices[p.Symbol] = price
		}
	}
	for _, rule := range m.rules {
		if r, ok := rule.(*DailyLoss); ok {
			s.DayPnL = r.DayPnL(s.Now)
		}
	}
	return s
}

func (m *Monitor) handleViolation(ctx context.Context, v *Violation) {
	log.Printf("risk: %s triggered (%s): %s", v.Rule, v.Action, v.Message)

	if _, err := m.db.InsertRiskAlert(ctx, db.RiskAlert{
		Rule:         v.Rule,
		Severity:     v.Action.Severity(),
		Action:       string(v.Action),
		Symbol:       v.Symbol,
		Message:      v.Message,
		CurrentValue: v.CurrentValue,
		Threshold:    v.Threshold,
	}); err != nil {
		log.Printf("risk: persist alert: %v", err)
	}

	m.bus.Publish(events.EventRiskAlert, events.RiskAlert{
		Rule:         v.Rule,
		Severity:     v.Action.Severity(),
		Action:       string(v.Action),
		Symbol:       v.Symbol,
		Message:      v.Message,
		CurrentValue: v.CurrentValue,
		Threshold:    v.Threshold,
	})

	if v.Action.Severity() >= ActionNotify.Severity() {
		if err := m.notifier.Send(ctx, "Risk alert: "+v.Rule, v.Message); err != nil {
			log.Printf("risk: notify: %v", err)
		}
	}
}

func (m *Monitor) act(ctx context.Context, v *Violation) {
	switch v.Action {
	case ActionPauseStrategy:
		paused := m.strategies.PauseAll()
		log.Printf("risk: paused %d strategies", paused)
	case ActionClosePositions:
		m.closeAllPositions(ctx)
	case ActionEmergencyStop:
		m.emergency.Execute(ctx, fmt.Sprintf("%s: %s", v.Rule, v.Message))
	}
}

// closeAllPositions flattens every open position with market IOC orders.
func (m *Monitor) closeAllPositions(ctx context.Context) {
	for _, p := range m.trades.Positions().Open() {
		_, err := m.trades.ClosePosition(ctx, p.Symbol, p.Side, "RISK-CLOSE-"+uuid.NewString())
		if err != nil {
			log.Printf("risk: close %s %s: %v", p.Symbol, p.Side, err)
			continue
		}
		log.Printf("risk: closed %s %s qty %v", p.Symbol, p.Side, p.Qty)
	}
}
