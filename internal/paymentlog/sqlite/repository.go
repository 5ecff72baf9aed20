// Package sqlite stores the payment audit log in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aq2208/garden-checkout/internal/paymentlog"

	// pure-Go driver, registered as "sqlite"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS payment_log (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id      TEXT    NOT NULL DEFAULT '',
    operation     TEXT    NOT NULL,
    result        TEXT    NOT NULL,
    charge_id     TEXT    NOT NULL DEFAULT '',
    amount_cents  INTEGER NOT NULL DEFAULT 0,
    detail        TEXT    NOT NULL DEFAULT '',
    trace_id      TEXT    NOT NULL DEFAULT '',
    span_id       TEXT    NOT NULL DEFAULT '',
    at            TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payment_log_order ON payment_log(order_id, at);
CREATE INDEX IF NOT EXISTS idx_payment_log_charge ON payment_log(charge_id);
`

const timeLayout = "2006-01-02T15:04:05.999999999Z"

type Repository struct {
	db *sql.DB
}

// Open opens or creates the database at path in WAL mode.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) Append(ctx context.Context, e *paymentlog.Entry) error {
	const q = `
		INSERT INTO payment_log
			(order_id, operation, result, charge_id, amount_cents, detail, trace_id, span_id, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		e.OrderID, string(e.Operation), string(e.Result), e.ChargeID, e.AmountCents,
		e.Detail, e.TraceID, e.SpanID, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append %s for %q: %w", e.Operation, e.OrderID, err)
	}
	return nil
}

func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]paymentlog.Entry, error) {
	const q = `
		SELECT order_id, operation, result, charge_id, amount_cents, detail, trace_id, span_id, at
		FROM   payment_log
		WHERE  order_id = ?
		ORDER  BY id`

	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []paymentlog.Entry
	for rows.Next() {
		var (
			e  paymentlog.Entry
			at string
		)
		if err := rows.Scan(&e.OrderID, &e.Operation, &e.Result, &e.ChargeID, &e.AmountCents,
			&e.Detail, &e.TraceID, &e.SpanID, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("sqlite: parse time %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ paymentlog.Repository = (*Repository)(nil)
