package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder(key string) *domain.Order {
	return &domain.Order{
		IdempotencyKey: key,
		Items:          []domain.LineItem{{ProductID: "fern", Name: "Boston Fern", UnitPrice: decimal.RequireFromString("29.99"), Quantity: 1}},
		Customer:       domain.CustomerInfo{Name: "Ana", Email: "Ana@Example.com", Phone: "1"},
		Totals: domain.Totals{
			Subtotal:   decimal.RequireFromString("29.99"),
			Tax:        decimal.RequireFromString("2.47"),
			Shipping:   decimal.Zero,
			GrandTotal: decimal.RequireFromString("32.46"),
		},
		Currency:          "usd",
		FulfillmentMethod: domain.FulfillmentPickup,
		PaymentKind:       domain.PaymentKindGateway,
		PaymentStatus:     domain.PaymentSucceeded,
		PaymentID:         "ch_1",
	}
}

func newTestOrders() (*Orders, *memRepo, *fakeGateway, *memOutbox) {
	repo := newMemRepo()
	gw := newFakeGateway()
	out := &memOutbox{}
	fixed := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	m := NewOrders(repo,
		WithOutbox(out),
		WithRefunds(NewPaymentOrchestrator(gw)),
		WithClock(func() time.Time { return fixed }),
	)
	return m, repo, gw, out
}

func TestCreateAssignsIDAndPending(t *testing.T) {
	m, _, _, out := newTestOrders()
	o, created, err := m.Create(context.Background(), sampleOrder("k1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Regexp(t, `^ORD-[0-9A-F]{32}$`, o.ID)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, "ana@example.com", o.Customer.Email)
	assert.Equal(t, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), o.CreatedAt)
	assert.Equal(t, []string{ChannelOrderPlaced}, out.channels())
}

func TestCreateSameKeyReturnsExisting(t *testing.T) {
	m, repo, _, _ := newTestOrders()
	first, _, err := m.Create(context.Background(), sampleOrder("k1"))
	require.NoError(t, err)

	second, created, err := m.Create(context.Background(), sampleOrder("k1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.count())
}

func TestCreateRejectsBrokenInvariants(t *testing.T) {
	m, repo, _, _ := newTestOrders()
	o := sampleOrder("k1")
	o.PaymentID = ""
	_, _, err := m.Create(context.Background(), o)
	assert.ErrorIs(t, err, domain.ErrPaidWithoutCharge)

	o = sampleOrder("k2")
	o.Totals.GrandTotal = decimal.RequireFromString("40")
	_, _, err = m.Create(context.Background(), o)
	assert.ErrorIs(t, err, domain.ErrTotalsMismatch)
	assert.Zero(t, repo.count())
}

func TestCreateSnapshotIsFrozen(t *testing.T) {
	m, _, _, _ := newTestOrders()
	in := sampleOrder("k1")
	o, _, err := m.Create(context.Background(), in)
	require.NoError(t, err)

	in.Items[0].Quantity = 50
	stored, err := m.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity)
}

func TestTransitionWalksLifecycle(t *testing.T) {
	m, _, _, _ := newTestOrders()
	o, _, err := m.Create(context.Background(), sampleOrder("k1"))
	require.NoError(t, err)

	for _, st := range []domain.Status{domain.StatusConfirmed, domain.StatusProcessing, domain.StatusShipped, domain.StatusDelivered} {
		got, err := m.TransitionStatus(context.Background(), o.ID, st)
		require.NoError(t, err)
		assert.Equal(t, st, got.Status)
	}
}

func TestInvalidTransitionNeverMutates(t *testing.T) {
	m, repo, _, _ := newTestOrders()
	o, _, err := m.Create(context.Background(), sampleOrder("k1"))
	require.NoError(t, err)
	repo.byID[o.ID].Status = domain.StatusDelivered

	_, err = m.TransitionStatus(context.Background(), o.ID, domain.StatusConfirmed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.StatusDelivered, te.From)

	stored, _ := m.GetByID(context.Background(), o.ID)
	assert.Equal(t, domain.StatusDelivered, stored.Status)
}

func TestConfirmRequiresSucceededPayment(t *testing.T) {
	m, _, _, _ := newTestOrders()
	o := sampleOrder("k1")
	o.PaymentStatus, o.PaymentID = domain.PaymentFailed, ""
	created, _, err := m.Create(context.Background(), o)
	require.NoError(t, err)

	_, err = m.TransitionStatus(context.Background(), created.ID, domain.StatusConfirmed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// cash orders are confirmed by staff
	cash := sampleOrder("k2")
	cash.PaymentKind, cash.PaymentStatus, cash.PaymentID = domain.PaymentKindCash, domain.PaymentPending, ""
	created, _, err = m.Create(context.Background(), cash)
	require.NoError(t, err)
	got, err := m.TransitionStatus(context.Background(), created.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
}

func TestTransitionUnknownOrder(t *testing.T) {
	m, _, _, _ := newTestOrders()
	_, err := m.TransitionStatus(context.Background(), "ORD-NOPE", domain.StatusConfirmed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelPaidOrderRefundsFirst(t *testing.T) {
	m, _, gw, out := newTestOrders()
	o, _, err := m.Create(context.Background(), sampleOrder("k1"))
	require.NoError(t, err)

	got, err := m.TransitionStatus(context.Background(), o.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, int32(1), gw.refunds.Load())
	assert.Equal(t, []string{ChannelOrderPlaced, ChannelOrderStatusChanged}, out.channels())
}

func TestCancelAbortsWhenRefundFails(t *testing.T) {
	m, _, gw, out := newTestOrders()
	gw.refundErr = errors.New("gateway down")
	o, _, err := m.Create(context.Background(), sampleOrder("k1"))
	require.NoError(t, err)

	_, err = m.TransitionStatus(context.Background(), o.ID, domain.StatusCancelled)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	stored, _ := m.GetByID(context.Background(), o.ID)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, []string{ChannelOrderPlaced}, out.channels())
}

func TestConcurrentCancelsRefundOnce(t *testing.T) {
	m, _, gw, out := newTestOrders()
	gw.refundGate = make(chan struct{})
	o, _, err := m.Create(context.Background(), sampleOrder("k1"))
	require.NoError(t, err)

	const callers = 4
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := m.TransitionStatus(context.Background(), o.ID, domain.StatusCancelled)
			errs <- err
		}()
	}
	// the caller that claimed the order is parked in Refund
	for i := 0; i < callers-1; i++ {
		err := <-errs
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NotErrorIs(t, err, ErrStoreUnavailable)
	}
	close(gw.refundGate)
	require.NoError(t, <-errs)

	assert.Equal(t, int32(1), gw.refunds.Load())
	assert.Equal(t, "refund-ch_1", gw.lastRefund.IdempotencyKey)
	stored, _ := m.GetByID(context.Background(), o.ID)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Equal(t, []string{ChannelOrderPlaced, ChannelOrderStatusChanged}, out.channels())
}

func TestCancelAcceptsChargeAlreadyRefunded(t *testing.T) {
	m, _, gw, _ := newTestOrders()
	gw.refundErr = fmt.Errorf("%w: charge ch_1", ErrAlreadyRefunded)
	o, _, err := m.Create(context.Background(), sampleOrder("k1"))
	require.NoError(t, err)

	got, err := m.TransitionStatus(context.Background(), o.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestCancelUnpaidOrderDoesNotRefund(t *testing.T) {
	m, _, gw, _ := newTestOrders()
	o := sampleOrder("k1")
	o.PaymentStatus, o.PaymentID = domain.PaymentFailed, ""
	created, _, err := m.Create(context.Background(), o)
	require.NoError(t, err)

	_, err = m.TransitionStatus(context.Background(), created.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Zero(t, gw.refunds.Load())
}

func TestRecordPaymentResolvesOnce(t *testing.T) {
	m, _, _, _ := newTestOrders()
	o := sampleOrder("k1")
	o.PaymentStatus, o.PaymentID = domain.PaymentPending, ""
	created, _, err := m.Create(context.Background(), o)
	require.NoError(t, err)

	got, err := m.RecordPayment(context.Background(), created.ID, PaymentResolution{PaymentID: "ch_7", PaymentStatus: domain.PaymentSucceeded})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSucceeded, got.PaymentStatus)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, "ch_7", got.PaymentID)

	// same resolution again is a no-op
	_, err = m.RecordPayment(context.Background(), created.ID, PaymentResolution{PaymentID: "ch_7", PaymentStatus: domain.PaymentSucceeded})
	require.NoError(t, err)

	// a contradicting one is refused
	_, err = m.RecordPayment(context.Background(), created.ID, PaymentResolution{PaymentStatus: domain.PaymentFailed})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecordPaymentNeedsChargeID(t *testing.T) {
	m, _, _, _ := newTestOrders()
	_, err := m.RecordPayment(context.Background(), "ORD-1", PaymentResolution{PaymentStatus: domain.PaymentSucceeded})
	assert.ErrorIs(t, err, domain.ErrPaidWithoutCharge)
}
