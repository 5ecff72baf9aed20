package usecase

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/pricing"
)

// Reconciler settles orders whose charge outcome was unknown at checkout,
// using gateway events as the trigger and Retrieve as the source of truth.
type Reconciler struct {
	payments *PaymentOrchestrator
	orders   *Orders
}

func NewReconciler(payments *PaymentOrchestrator, orders *Orders) *Reconciler {
	return &Reconciler{payments: payments, orders: orders}
}

// HandleGatewayEvent returns an error only for failures worth redelivering.
func (r *Reconciler) HandleGatewayEvent(ctx context.Context, ev GatewayEventMsg) error {
	log := logging.FromCtx(ctx).With("charge_id", ev.ChargeID, "order_id", ev.OrderID, "event", ev.Type)
	if ev.ChargeID == "" {
		log.Warn("gateway event without charge id dropped")
		return nil
	}

	ch, err := r.payments.Retrieve(ctx, ev.ChargeID)
	if errors.Is(err, ErrNotFound) {
		log.Warn("gateway event for unknown charge dropped")
		return nil
	}
	if err != nil {
		return err
	}

	orderID := ch.Metadata["orderId"]
	if orderID == "" {
		orderID = ev.OrderID
	}
	if orderID == "" {
		log.Warn("charge carries no order reference")
		return nil
	}
	if ev.OrderID != "" && ev.OrderID != orderID {
		log.Error("gateway event order does not match charge", "charge_order_id", orderID)
		return nil
	}

	o, err := r.orders.GetByID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		// charge without an order: needs a human
		log.Error("charge has no stored order", "amount_cents", ch.AmountCents)
		return nil
	}
	if err != nil {
		return err
	}
	if o.PaymentKind != domain.PaymentKindGateway {
		return nil
	}
	if o.Status == domain.StatusCancelled && o.PaymentStatus == domain.PaymentSucceeded {
		// a refund that failed after a late settlement is retried here
		if o.PaymentID != ch.ID || ch.Status != ChargeSucceeded || ch.Refunded {
			return nil
		}
		log.Warn("cancelled order still charged, refunding")
		return r.orders.refundCancelled(ctx, o)
	}
	if o.PaymentStatus != domain.PaymentPending {
		return nil
	}
	want, err := pricing.ToMinorUnits(o.Totals.GrandTotal)
	if err != nil || ch.AmountCents != want {
		log.Error("charge amount does not match order", "charged_cents", ch.AmountCents, "order_total", o.Totals.GrandTotal.StringFixed(2))
		return nil
	}

	var res PaymentResolution
	switch ch.Status {
	case ChargeSucceeded:
		res = PaymentResolution{PaymentID: ch.ID, PaymentStatus: domain.PaymentSucceeded}
	case ChargeFailed:
		reason := ch.FailureReason
		if reason == "" {
			reason = ev.FailureReason
		}
		res = PaymentResolution{PaymentStatus: domain.PaymentFailed, FailureReason: reason}
	default:
		// still settling, wait for the next event
		return nil
	}

	updated, err := r.orders.RecordPayment(ctx, o.ID, res)
	if errors.Is(err, ErrInvalidTransition) {
		log.Warn("payment already resolved", "err", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	log.Info("payment reconciled", "payment_status", updated.PaymentStatus, "status", updated.Status)
	return nil
}
