package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Order represents a trading order stored in the DB. ClientID is the
// locally generated id and survives even when the exchange rejects the
// order before assigning its own.
type Order struct {
	ClientID        string
	ExchangeOrderID string
	Exchange        string
	Symbol          string
	Side            string
	Type            string
	Price           float64
	StopPrice       float64
	Qty             float64
	FilledQty       float64
	AvgPrice        float64
	Fee             float64
	State           string
	StrategyID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Position tracks net exposure per symbol and direction.
type Position struct {
	Symbol      string
	Side        string
	Qty         float64
	EntryPrice  float64
	RealizedPnL float64
	UpdatedAt   time.Time
}

// RiskAlert records one rule trigger and the action taken.
type RiskAlert struct {
	ID           int64
	Rule         string
	Severity     int
	Action       string
	Symbol       string
	Message      string
	CurrentValue float64
	Threshold    float64
	CreatedAt    time.Time
}

const orderColumns = `client_id, COALESCE(exchange_order_id, ''), exchange, symbol, side, type,
       price, stop_price, qty, filled_qty, avg_price, fee, state, COALESCE(strategy_id, ''), created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(&o.ClientID, &o.ExchangeOrderID, &o.Exchange, &o.Symbol, &o.Side, &o.Type,
		&o.Price, &o.StopPrice, &o.Qty, &o.FilledQty, &o.AvgPrice, &o.Fee, &o.State, &o.StrategyID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			client_id, exchange_order_id, exchange, symbol, side, type,
			price, stop_price, qty, filled_qty, avg_price, fee, state, strategy_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		o.ClientID, o.ExchangeOrderID, o.Exchange, o.Symbol, o.Side, o.Type,
		o.Price, o.StopPrice, o.Qty, o.FilledQty, o.AvgPrice, o.Fee, o.State, o.StrategyID, nullTime(o.CreatedAt),
	)
	return err
}

// UpdateOrderState sets the lifecycle state of an order.
func (d *Database) UpdateOrderState(ctx context.Context, clientID, state string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE client_id = ?
	`, state, clientID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateOrderFill records fill progress together with the resulting state.
func (d *Database) UpdateOrderFill(ctx context.Context, clientID string, filledQty, avgPrice, fee float64, state string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET filled_qty = ?, avg_price = ?, fee = ?, state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE client_id = ?
	`, filledQty, avgPrice, fee, state, clientID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetExchangeOrderID backfills the venue-assigned id after submission.
func (d *Database) SetExchangeOrderID(ctx context.Context, clientID, exchangeOrderID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET exchange_order_id = ?, updated_at = CURRENT_TIMESTAMP WHERE client_id = ?
	`, exchangeOrderID, clientID)
	return err
}

// GetOrder fetches one order by client id.
func (d *Database) GetOrder(ctx context.Context, clientID string) (Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_id = ?`, clientID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

// ListOrders returns the most recent orders, newest first.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, client_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOpenOrders returns orders still working on the exchange.
func (d *Database) ListOpenOrders(ctx context.Context) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE state IN ('pending', 'open', 'partially_filled')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpsertPosition creates or replaces the position row for a symbol/side pair.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, side, qty, entry_price, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol, side) DO UPDATE SET
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			realized_pnl = excluded.realized_pnl,
			updated_at = CURRENT_TIMESTAMP
	`, p.Symbol, p.Side, p.Qty, p.EntryPrice, p.RealizedPnL)
	return err
}

// ListPositions returns all stored positions.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, side, qty, entry_price, realized_pnl, updated_at FROM positions
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Side, &p.Qty, &p.EntryPrice, &p.RealizedPnL, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// InsertRiskAlert records a rule trigger.
func (d *Database) InsertRiskAlert(ctx context.Context, a RiskAlert) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_alerts (rule, severity, action, symbol, message, current_value, threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, a.Rule, a.Severity, a.Action, a.Symbol, a.Message, a.CurrentValue, a.Threshold, nullTime(a.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListRiskAlerts returns the most recent alerts, newest first.
func (d *Database) ListRiskAlerts(ctx context.Context, limit int) ([]RiskAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, rule, severity, action, COALESCE(symbol, ''), message, current_value, threshold, created_at
		FROM risk_alerts
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query risk alerts: %w", err)
	}
	defer rows.Close()

	var alerts []RiskAlert
	for rows.Next() {
		var a RiskAlert
		if err := rows.Scan(&a.ID, &a.Rule, &a.Severity, &a.Action, &a.Symbol, &a.Message, &a.CurrentValue, &a.Threshold, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// nullTime maps the zero time to NULL so COALESCE can apply the DB default.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
