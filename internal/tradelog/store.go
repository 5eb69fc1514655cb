// Package tradelog persists the append-only order, trade and alert history.
// Any durable representation is acceptable as long as it round-trips the data
// model exactly; this one uses sqlite so replay tooling can query it offline.
package tradelog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/traderlab/papertrade/internal/order"
	"github.com/traderlab/papertrade/internal/risk"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the log database at path. ":memory:" gives
// an ephemeral store for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertOrder records an order. Called once at submission and once more when
// the order reaches its terminal state.
func (s *Store) UpsertOrder(ctx context.Context, o *order.Order) error {
	var limitPrice sql.NullFloat64
	if o.LimitPrice != nil {
		limitPrice = sql.NullFloat64{Float64: *o.LimitPrice, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, symbol, side, type, quantity, limit_price,
			status, reject_reason, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			status = excluded.status,
			reject_reason = excluded.reject_reason`,
		o.ID, o.Symbol, string(o.Side), string(o.Type), o.Quantity, limitPrice,
		string(o.Status), o.RejectReason, o.SubmittedAt,
	)
	return err
}

// InsertTrade appends a fill. Trades are immutable, so a duplicate id is
// silently ignored rather than updated.
func (s *Store) InsertTrade(ctx context.Context, t *order.Trade) error {
	var realized sql.NullFloat64
	if t.RealizedPnL != nil {
		realized = sql.NullFloat64{Float64: *t.RealizedPnL, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (trade_id, order_id, symbol, side, quantity,
			price, slippage_bps, realized_pnl, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrderID, t.Symbol, string(t.Side), t.Quantity,
		t.Price, t.SlippageBps, realized, t.Timestamp,
	)
	return err
}

// InsertAlert appends an alert to the durable timeline.
func (s *Store) InsertAlert(ctx context.Context, a risk.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (severity, symbol, message, raised_at)
		VALUES (?, ?, ?, ?)`,
		string(a.Severity), a.Symbol, a.Message, a.Timestamp,
	)
	return err
}

// TradesAsc returns all trades in execution order, for ledger replay and the
// equity curve.
func (s *Store) TradesAsc(ctx context.Context) ([]order.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, order_id, symbol, side, quantity, price, slippage_bps,
			realized_pnl, executed_at
		FROM trades ORDER BY executed_at ASC, trade_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// TradesDesc returns up to limit trades, newest first.
func (s *Store) TradesDesc(ctx context.Context, limit int) ([]order.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, order_id, symbol, side, quantity, price, slippage_bps,
			realized_pnl, executed_at
		FROM trades ORDER BY executed_at DESC, trade_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]order.Trade, error) {
	var out []order.Trade
	for rows.Next() {
		var t order.Trade
		var side string
		var realized sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &t.Quantity,
			&t.Price, &t.SlippageBps, &realized, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Side = order.Side(side)
		if realized.Valid {
			v := realized.Float64
			t.RealizedPnL = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Orders returns up to limit orders, newest first.
func (s *Store) Orders(ctx context.Context, limit int) ([]order.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, symbol, side, type, quantity, limit_price, status,
			reject_reason, submitted_at
		FROM orders ORDER BY submitted_at DESC, order_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var o order.Order
		var side, typ, status string
		var limitPrice sql.NullFloat64
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &typ, &o.Quantity,
			&limitPrice, &status, &o.RejectReason, &o.SubmittedAt); err != nil {
			return nil, err
		}
		o.Side = order.Side(side)
		o.Type = order.Type(typ)
		o.Status = order.Status(status)
		if limitPrice.Valid {
			v := limitPrice.Float64
			o.LimitPrice = &v
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Alerts returns up to limit alerts, newest first.
func (s *Store) Alerts(ctx context.Context, limit int) ([]risk.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, symbol, message, raised_at
		FROM alerts ORDER BY raised_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.Alert
	for rows.Next() {
		var a risk.Alert
		var severity string
		if err := rows.Scan(&severity, &a.Symbol, &a.Message, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Severity = risk.Severity(severity)
		out = append(out, a)
	}
	return out, rows.Err()
}

// TradeCount returns the number of logged trades.
func (s *Store) TradeCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n)
	return n, err
}
