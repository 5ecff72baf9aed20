package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/google/uuid"
)

const orderIDPrefix = "ORD-"

// NewOrderID returns a fresh server-generated order id.
func NewOrderID() string {
	return orderIDPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Orders owns the order aggregate: creation, lookups and the status machine.
type Orders struct {
	repo     OrderRepo
	out      OutboxRepo
	cache    OrderCache
	payments *PaymentOrchestrator
	now      func() time.Time
}

type OrdersOption func(*Orders)

func WithOutbox(out OutboxRepo) OrdersOption      { return func(m *Orders) { m.out = out } }
func WithStatusCache(c OrderCache) OrdersOption   { return func(m *Orders) { m.cache = c } }
func WithClock(now func() time.Time) OrdersOption { return func(m *Orders) { m.now = now } }
func WithRefunds(p *PaymentOrchestrator) OrdersOption {
	return func(m *Orders) { m.payments = p }
}

func NewOrders(repo OrderRepo, opts ...OrdersOption) *Orders {
	m := &Orders{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new order. When an order with the same idempotency key
// already exists it is returned instead and created is false.
func (m *Orders) Create(ctx context.Context, o *domain.Order) (_ *domain.Order, created bool, err error) {
	ctx, span := tracer.Start(ctx, "order.create")
	defer span.End()

	o = o.Clone()
	if o.ID == "" {
		o.ID = NewOrderID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now().UTC()
	}
	o.Status = domain.StatusPending
	o.Customer.Email = domain.NormalizeEmail(o.Customer.Email)
	if err := o.Validate(); err != nil {
		return nil, false, fmt.Errorf("create order: %w", err)
	}

	if err := m.repo.Create(ctx, o); err != nil {
		if !errors.Is(err, ErrDuplicateKey) || o.IdempotencyKey == "" {
			return nil, false, fmt.Errorf("%w: create order: %v", ErrStoreUnavailable, err)
		}
		existing, gerr := m.repo.GetByIdempotencyKey(ctx, o.IdempotencyKey)
		if gerr != nil {
			return nil, false, fmt.Errorf("%w: load existing order: %v", ErrStoreUnavailable, gerr)
		}
		return existing, false, nil
	}

	m.cacheStatus(ctx, o.ID, o.Status)
	m.publish(ctx, ChannelOrderPlaced, OrderPlacedMsg{
		OrderID:           o.ID,
		CustomerName:      o.Customer.Name,
		CustomerEmail:     o.Customer.Email,
		GrandTotal:        o.Totals.GrandTotal.StringFixed(2),
		Currency:          o.Currency,
		FulfillmentMethod: string(o.FulfillmentMethod),
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		ItemCount:         len(o.Items),
		CreatedAt:         o.CreatedAt,
	})
	return o.Clone(), true, nil
}

func (m *Orders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	o, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err)
	}
	return o, nil
}

func (m *Orders) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	o, err := m.repo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, lookupErr(err)
	}
	return o, nil
}

func (m *Orders) ListByEmail(ctx context.Context, email string) ([]*domain.Order, error) {
	out, err := m.repo.ListByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("%w: list by email: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (m *Orders) List(ctx context.Context, limit, offset int) ([]*domain.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	out, err := m.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// Status answers from the cache when it can.
func (m *Orders) Status(ctx context.Context, id string) (domain.Status, error) {
	if m.cache != nil {
		if st, ok, err := m.cache.GetStatus(ctx, id); err == nil && ok {
			return st, nil
		}
	}
	o, err := m.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	m.cacheStatus(ctx, id, o.Status)
	return o.Status, nil
}

// TransitionStatus moves an order along the lifecycle. Illegal moves fail
// with a *TransitionError and leave the stored order untouched. Cancelling an
// order whose card payment succeeded claims the cancellation first and then
// refunds; if the refund fails the order goes back to where it was.
func (m *Orders) TransitionStatus(ctx context.Context, id string, to domain.Status) (*domain.Order, error) {
	o, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(o, to); err != nil {
		return nil, err
	}
	refund := to == domain.StatusCancelled && o.PaymentKind == domain.PaymentKindGateway && o.PaymentStatus == domain.PaymentSucceeded
	if refund && m.payments == nil {
		return nil, &TransitionError{From: o.Status, To: to, Reason: "refunds are not configured"}
	}

	ok, err := m.repo.UpdateStatusIf(ctx, id, o.Status, to)
	if err != nil {
		return nil, fmt.Errorf("%w: update status: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		// someone else moved it first
		cur, gerr := m.GetByID(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &TransitionError{From: cur.Status, To: to, Reason: "order changed concurrently"}
	}

	if refund {
		if err := m.refundCancelled(ctx, o); err != nil {
			m.revertCancel(ctx, o)
			return nil, fmt.Errorf("refund before cancel: %w", err)
		}
	}
	return m.afterTransition(ctx, o, to), nil
}

// refundCancelled returns the full charge of a cancelled order. A charge that
// was already refunded counts as done.
func (m *Orders) refundCancelled(ctx context.Context, o *domain.Order) error {
	if m.payments == nil {
		return fmt.Errorf("%w: refunds are not configured", ErrGatewayUnavailable)
	}
	err := m.payments.Refund(context.WithoutCancel(ctx), o.ID, o.PaymentID, 0)
	if errors.Is(err, ErrAlreadyRefunded) {
		logging.FromCtx(ctx).Info("charge already refunded", "order_id", o.ID, "charge_id", o.PaymentID)
		return nil
	}
	return err
}

func (m *Orders) revertCancel(ctx context.Context, o *domain.Order) {
	ok, err := m.repo.UpdateStatusIf(context.WithoutCancel(ctx), o.ID, domain.StatusCancelled, o.Status)
	if err != nil || !ok {
		logging.FromCtx(ctx).Error("order cancelled but refund failed",
			"order_id", o.ID, "charge_id", o.PaymentID, "err", err)
	}
}

func (m *Orders) afterTransition(ctx context.Context, o *domain.Order, to domain.Status) *domain.Order {
	from := o.Status
	updated := o.Clone()
	updated.Status = to

	m.cacheStatus(ctx, updated.ID, to)
	m.publish(ctx, ChannelOrderStatusChanged, OrderStatusChangedMsg{
		OrderID:       updated.ID,
		CustomerEmail: updated.Customer.Email,
		From:          string(from),
		To:            string(to),
		PaymentStatus: string(updated.PaymentStatus),
		ChangedAt:     m.now().UTC(),
	})
	logging.FromCtx(ctx).Info("order status changed", "order_id", updated.ID, "from", from, "to", to)
	return updated
}

// RecordPayment settles a card payment left pending by an unknown charge
// outcome. It applies once; repeating the same resolution is a no-op.
func (m *Orders) RecordPayment(ctx context.Context, id string, r PaymentResolution) (*domain.Order, error) {
	if r.PaymentStatus == domain.PaymentSucceeded && r.PaymentID == "" {
		return nil, domain.ErrPaidWithoutCharge
	}
	if r.PaymentStatus != domain.PaymentSucceeded && r.PaymentStatus != domain.PaymentFailed {
		return nil, fmt.Errorf("%w: cannot record payment as %q", ErrInvalidTransition, r.PaymentStatus)
	}

	o, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.PaymentKind != domain.PaymentKindGateway {
		return nil, fmt.Errorf("%w: order %s is not paid by card", ErrInvalidTransition, id)
	}
	if o.PaymentStatus != domain.PaymentPending {
		if o.PaymentStatus == r.PaymentStatus && (r.PaymentID == "" || o.PaymentID == r.PaymentID) {
			return o, nil
		}
		return nil, fmt.Errorf("%w: payment for %s already %s", ErrInvalidTransition, id, o.PaymentStatus)
	}

	if r.PaymentStatus == domain.PaymentSucceeded && o.Status == domain.StatusPending {
		r.Status = domain.StatusConfirmed
	}
	if r.PaymentStatus == domain.PaymentFailed {
		// a failed charge never carries a payment id
		r.PaymentID = ""
		r.FailureReason = clipReason(r.FailureReason)
	}
	ok, err := m.repo.ResolvePayment(ctx, id, r)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve payment: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		cur, gerr := m.GetByID(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if cur.PaymentStatus == r.PaymentStatus {
			return cur, nil
		}
		return nil, fmt.Errorf("%w: payment for %s resolved concurrently as %s", ErrInvalidTransition, id, cur.PaymentStatus)
	}

	updated := o.Clone()
	updated.PaymentID = r.PaymentID
	updated.PaymentStatus = r.PaymentStatus
	updated.PaymentFailureReason = r.FailureReason
	if updated.Status == domain.StatusCancelled && updated.PaymentStatus == domain.PaymentSucceeded {
		logging.FromCtx(ctx).Warn("charge settled on a cancelled order, refunding",
			"order_id", id, "charge_id", updated.PaymentID)
		if err := m.refundCancelled(ctx, updated); err != nil {
			return nil, fmt.Errorf("refund cancelled order: %w", err)
		}
		return updated, nil
	}
	if r.Status != "" && r.Status != o.Status {
		return m.afterTransition(ctx, updated, r.Status), nil
	}
	return updated, nil
}

func checkTransition(o *domain.Order, to domain.Status) error {
	if !domain.CanTransition(o.Status, to) {
		return &TransitionError{From: o.Status, To: to}
	}
	if to == domain.StatusConfirmed && o.PaymentStatus != domain.PaymentSucceeded && o.PaymentKind != domain.PaymentKindCash {
		return &TransitionError{From: o.Status, To: to, Reason: "payment has not succeeded"}
	}
	return nil
}

func (m *Orders) cacheStatus(ctx context.Context, id string, st domain.Status) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetStatus(ctx, id, st); err != nil {
		logging.FromCtx(ctx).Warn("status cache write failed", "order_id", id, "err", err)
	}
}

// publish is fire-and-forget: a lost event never fails the order operation.
func (m *Orders) publish(ctx context.Context, channel string, msg any) {
	if m.out == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err == nil {
		err = m.out.Enqueue(context.WithoutCancel(ctx), channel, payload)
	}
	if err != nil {
		logging.FromCtx(ctx).Warn("outbox enqueue failed", "channel", channel, "err", err)
	}
}

func lookupErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
