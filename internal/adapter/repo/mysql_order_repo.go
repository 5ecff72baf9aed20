package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/go-sql-driver/mysql"
)

// ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

type MySQLOrderRepo struct{ db *sql.DB }

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo { return &MySQLOrderRepo{db: db} }

const orderColumns = `id,idempotency_key,request_hash,items_json,customer_json,subtotal,tax,shipping,grand_total,
currency,fulfillment_method,special_instructions,status,payment_kind,payment_id,payment_reference,
payment_status,payment_failure_reason,card_reference,created_at,estimated_fulfillment_date`

// Create relies on the unique key over idempotency_key for insert-if-absent.
func (r *MySQLOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}
	var eta sql.NullTime
	if o.EstimatedFulfillmentDate != nil {
		eta = sql.NullTime{Time: o.EstimatedFulfillmentDate.UTC(), Valid: true}
	}
	key := o.IdempotencyKey
	if key == "" {
		// orders created outside checkout still need a unique value
		key = "order:" + o.ID
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO orders (`+orderColumns+`,customer_email,version,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,0,?)
`, o.ID, key, o.RequestHash, items, customer,
		o.Totals.Subtotal, o.Totals.Tax, o.Totals.Shipping, o.Totals.GrandTotal,
		o.Currency, string(o.FulfillmentMethod), o.SpecialInstructions, string(o.Status),
		string(o.PaymentKind), o.PaymentID, o.PaymentReference, string(o.PaymentStatus),
		o.PaymentFailureReason, o.CardReference, o.CreatedAt.UTC(), eta,
		o.Customer.Email, o.CreatedAt.UTC(),
	)
	if isDuplicate(err) {
		return usecase.ErrDuplicateKey
	}
	return err
}

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	return scanOrder(row)
}

func (r *MySQLOrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key=?`, key)
	return scanOrder(row)
}

func (r *MySQLOrderRepo) ListByEmail(ctx context.Context, email string) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_email=? ORDER BY created_at DESC`, email)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (r *MySQLOrderRepo) List(ctx context.Context, limit, offset int) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (r *MySQLOrderRepo) UpdateStatusIf(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE orders
        SET status = ?, version = version + 1, updated_at = NOW(6)
        WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// rows == 0: not found or status moved on
	return rows > 0, nil
}

func (r *MySQLOrderRepo) ResolvePayment(ctx context.Context, id string, p usecase.PaymentResolution) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE orders
        SET payment_id = ?, payment_status = ?, payment_failure_reason = ?,
            status = CASE WHEN status = 'pending' AND ? <> '' THEN ? ELSE status END,
            version = version + 1, updated_at = NOW(6)
        WHERE id = ? AND payment_status = 'pending' AND payment_kind = 'gateway'`,
		p.PaymentID, string(p.PaymentStatus), p.FailureReason, string(p.Status), string(p.Status), id,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		o                                       domain.Order
		items, customer                         []byte
		fulfillment, status, kind, paymentState string
		eta                                     sql.NullTime
	)
	err := s.Scan(&o.ID, &o.IdempotencyKey, &o.RequestHash, &items, &customer,
		&o.Totals.Subtotal, &o.Totals.Tax, &o.Totals.Shipping, &o.Totals.GrandTotal,
		&o.Currency, &fulfillment, &o.SpecialInstructions, &status, &kind,
		&o.PaymentID, &o.PaymentReference, &paymentState, &o.PaymentFailureReason,
		&o.CardReference, &o.CreatedAt, &eta,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, usecase.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("order %s customer: %w", o.ID, err)
	}
	o.FulfillmentMethod = domain.FulfillmentMethod(fulfillment)
	o.Status = domain.Status(status)
	o.PaymentKind = domain.PaymentKind(kind)
	o.PaymentStatus = domain.PaymentStatus(paymentState)
	o.CreatedAt = o.CreatedAt.UTC()
	if eta.Valid {
		t := eta.Time.UTC()
		o.EstimatedFulfillmentDate = &t
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*domain.Order, error) {
	defer rows.Close()
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

var _ usecase.OrderRepo = (*MySQLOrderRepo)(nil)
