// Package position keeps an in-memory view of open positions while
// persisting every change for durability across restarts.
package position

import (
	"context"
	"sync"
	"time"

	"quantdesk/pkg/db"
	"quantdesk/pkg/exchanges/common"
)

type key struct {
	symbol string
	side   common.PositionSide
}

// Manager tracks positions keyed by symbol and direction, so a long and a
// short on the same symbol coexist.
type Manager struct {
	mu        sync.RWMutex
	positions map[key]common.Position
	db        *db.Database
}

func NewManager(database *db.Database) *Manager {
	return &Manager{
		db:        database,
		positions: make(map[key]common.Position),
	}
}

// Load seeds in-memory state from the DB on startup.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	stored, err := m.db.ListPositions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range stored {
		k := key{symbol: p.Symbol, side: common.PositionSide(p.Side)}
		m.positions[k] = common.Position{
			Symbol:      p.Symbol,
			Side:        common.PositionSide(p.Side),
			Qty:         p.Qty,
			EntryPrice:  p.EntryPrice,
			RealizedPnL: p.RealizedPnL,
		}
	}
	return nil
}

// Get returns the position for a symbol and direction. A missing position
// comes back zero-valued with the key fields set.
func (m *Manager) Get(symbol string, side common.PositionSide) common.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[key{symbol: symbol, side: side}]
	if !ok {
		return common.Position{Symbol: symbol, Side: side}
	}
	return p
}

// List returns a snapshot of all positions, including flat ones that
// retain realized PnL history.
func (m *Manager) List() []common.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]common.Position, 0, len(m.positions))
	for _, p := range m.positions {
		res = append(res, p)
	}
	return res
}

// Open returns only positions with non-zero quantity.
func (m *Manager) Open() []common.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]common.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Qty > 0 {
			res = append(res, p)
		}
	}
	return res
}

// ApplyTrade folds an executed trade into position state. The trade is
// tracked under its own direction only: a sell while long opens a separate
// short rather than netting against the long, and realized PnL moves
// exclusively through Close. Returns the position touched by the trade.
func (m *Manager) ApplyTrade(ctx context.Context, symbol string, side common.Side, qty, price float64) []common.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qty <= 0 || price <= 0 {
		return nil
	}
	p := m.increaseLocked(ctx, symbol, common.PositionSideFor(side), qty, price)
	return []common.Position{p}
}

// increaseLocked grows a position with a weighted-average entry price.
func (m *Manager) increaseLocked(ctx context.Context, symbol string, side common.PositionSide, qty, price float64) common.Position {
	k := key{symbol: symbol, side: side}
	p, ok := m.positions[k]
	if !ok {
		p = common.Position{Symbol: symbol, Side: side}
	}
	if p.Qty == 0 {
		p.OpenedAt = time.Now().UnixMilli()
	}

	newQty := p.Qty + qty
	p.EntryPrice = (p.EntryPrice*p.Qty + price*qty) / newQty
	p.Qty = newQty
	p.UnrealizedPnL = markToPrice(p, price)
	p.UpdatedAt = time.Now().UnixMilli()

	m.positions[k] = p
	m.persistLocked(ctx, p)
	return p
}

// markToPrice values the position against the most recent trade price.
func markToPrice(p common.Position, price float64) float64 {
	if p.Qty == 0 {
		return 0
	}
	if p.Side == common.PositionLong {
		return (price - p.EntryPrice) * p.Qty
	}
	return (p.EntryPrice - price) * p.Qty
}

// Close flattens a position at the given price, realizing its PnL against
// the entry. The record stays in the map with zero quantity so realized
// PnL remains visible; this is the only operation that mutates it.
func (m *Manager) Close(ctx context.Context, symbol string, side common.PositionSide, price float64) common.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{symbol: symbol, side: side}
	p := m.positions[k]
	if p.Qty == 0 {
		return p
	}

	if side == common.PositionLong {
		p.RealizedPnL += (price - p.EntryPrice) * p.Qty
	} else {
		p.RealizedPnL += (p.EntryPrice - price) * p.Qty
	}
	p.Qty = 0
	p.EntryPrice = 0
	p.UnrealizedPnL = 0
	p.UpdatedAt = time.Now().UnixMilli()

	m.positions[k] = p
	m.persistLocked(ctx, p)
	return p
}

// UnrealizedPnL values an open position against a mark price.
func (m *Manager) UnrealizedPnL(symbol string, side common.PositionSide, mark float64) float64 {
	p := m.Get(symbol, side)
	if p.Qty == 0 || mark <= 0 {
		return 0
	}
	if side == common.PositionLong {
		return (mark - p.EntryPrice) * p.Qty
	}
	return (p.EntryPrice - mark) * p.Qty
}

// Exposure returns the notional value of a position at its entry price.
func (m *Manager) Exposure(symbol string, side common.PositionSide) float64 {
	p := m.Get(symbol, side)
	return p.Qty * p.EntryPrice
}

func (m *Manager) persistLocked(ctx context.Context, p common.Position) {
	if m.db == nil {
		return
	}
	_ = m.db.UpsertPosition(ctx, db.Position{
		Symbol:      p.Symbol,
		Side:        string(p.Side),
		Qty:         p.Qty,
		EntryPrice:  p.EntryPrice,
		RealizedPnL: p.RealizedPnL,
	})
}
