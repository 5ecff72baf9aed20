package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/pricing"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const lockScope = "checkout"

// Stored column widths; anything longer is refused before the gateway is called.
const (
	maxIdempotencyKeyLen = 128
	maxReasonLen         = 255
)

// CartItem is what the client submits. Prices are always taken from the catalog.
type CartItem struct {
	ProductID string
	Quantity  int
}

type CheckoutInput struct {
	IdempotencyKey      string
	Items               []CartItem
	Customer            domain.CustomerInfo
	PaymentMethod       domain.PaymentMethod
	FulfillmentMethod   domain.FulfillmentMethod
	SpecialInstructions string
}

type CheckoutResult struct {
	Order *domain.Order
	// Success is false for a declined payment; the order still exists.
	Success       bool
	FailureReason string
	// Processing means a charge was sent and its result is being reconciled.
	Processing bool
	// Replayed is set when the order came from an earlier submission.
	Replayed bool
}

type CheckoutConfig struct {
	Pricing     pricing.Policy
	Currency    string
	StoreName   string
	DeliveryETA time.Duration
	// LockWait bounds how long a duplicate submission waits for the first one.
	LockWait        time.Duration
	PollInterval    time.Duration
	PersistAttempts int
	PersistBackoff  time.Duration
	// MaxQuantity caps a single cart line.
	MaxQuantity int
}

func DefaultCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		Pricing:         pricing.DefaultPolicy(),
		Currency:        "usd",
		StoreName:       "Garden Center",
		DeliveryETA:     7 * 24 * time.Hour,
		LockWait:        20 * time.Second,
		PollInterval:    100 * time.Millisecond,
		PersistAttempts: 5,
		PersistBackoff:  200 * time.Millisecond,
		MaxQuantity:     999,
	}
}

type Checkout struct {
	catalog  Catalog
	orders   *Orders
	payments *PaymentOrchestrator
	idem     IdempotencyStore
	metrics  Metrics
	cfg      CheckoutConfig
	validate *validator.Validate
	now      func() time.Time
}

func NewCheckout(catalog Catalog, orders *Orders, payments *PaymentOrchestrator, idem IdempotencyStore, metrics Metrics, cfg CheckoutConfig) *Checkout {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Checkout{
		catalog:  catalog,
		orders:   orders,
		payments: payments,
		idem:     idem,
		metrics:  metrics,
		cfg:      cfg,
		validate: newValidator(),
		now:      time.Now,
	}
}

// Execute runs one checkout submission. A declined payment is reported through
// the result, not the error. Submissions sharing an idempotency key resolve to
// a single order and a single charge.
func (uc *Checkout) Execute(ctx context.Context, in CheckoutInput) (res CheckoutResult, err error) {
	ctx, span := tracer.Start(ctx, "checkout")
	defer func() {
		uc.metrics.CheckoutOutcome(outcomeLabel(res, err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, KindOf(err).String())
		} else if res.Order != nil {
			span.SetAttributes(attribute.String("order.id", res.Order.ID))
		}
		span.End()
	}()

	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.IdempotencyKey == "" {
		return res, ErrMissingIdempotencyKey
	}
	if utf8.RuneCountInString(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return res, fmt.Errorf("%w: at most %d characters", ErrInvalidIdempotencyKey, maxIdempotencyKeyLen)
	}
	log := logging.FromCtx(ctx).With("idempotency_key", in.IdempotencyKey)
	ctx = logging.WithCtx(ctx, log)

	if err := uc.validateInput(in); err != nil {
		return res, err
	}
	fp := Fingerprint(in)

	if prior, err := uc.lookup(ctx, in.IdempotencyKey); err != nil || prior != nil {
		if err != nil {
			return res, err
		}
		return replay(prior, fp)
	}

	items, totals, err := uc.price(ctx, in.Items, in.FulfillmentMethod)
	if err != nil {
		return res, err
	}
	amountCents, err := pricing.ToMinorUnits(totals.GrandTotal)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrInvalidCart, err)
	}

	prior, token, err := uc.acquire(ctx, in.IdempotencyKey)
	if err != nil {
		return res, err
	}
	if prior != nil {
		return replay(prior, fp)
	}

	order := uc.newOrder(in, fp, items, totals)
	outcome, err := uc.payments.Process(ctx, PaymentRequest{
		OrderID:       order.ID,
		Method:        in.PaymentMethod,
		AmountCents:   amountCents,
		Currency:      uc.cfg.Currency,
		Description:   fmt.Sprintf("Order from %s - %d items", uc.cfg.StoreName, len(items)),
		CustomerEmail: order.Customer.Email,
		Reference:     order.PaymentReference,
		Metadata: map[string]string{
			"orderId":           order.ID,
			"orderType":         "online",
			"customerName":      order.Customer.Name,
			"fulfillmentMethod": string(order.FulfillmentMethod),
		},
	})
	if err != nil {
		uc.release(ctx, in.IdempotencyKey, token)
		return res, err
	}
	applyOutcome(order, outcome)

	stored, err := uc.persist(ctx, order, outcome.Charged)
	if err != nil {
		if !outcome.Charged {
			uc.release(ctx, in.IdempotencyKey, token)
			return res, err
		}
		log.Error("charge sent but order not stored",
			"order_id", order.ID, "charge_id", outcome.ChargeID, "amount", totals.GrandTotal.StringFixed(2), "err", err)
		return res, &NotRecordedError{ChargeID: outcome.ChargeID, Err: err}
	}

	if err := uc.idem.Remember(context.WithoutCancel(ctx), lockScope, in.IdempotencyKey, stored.ID); err != nil {
		log.Warn("idempotency remember failed", "order_id", stored.ID, "err", err)
	}
	log.Info("checkout completed", "order_id", stored.ID,
		"payment_status", stored.PaymentStatus, "grand_total", stored.Totals.GrandTotal.StringFixed(2))
	return resultFor(stored, false), nil
}

// price rebuilds every line from the catalog's canonical price.
func (uc *Checkout) price(ctx context.Context, cart []CartItem, method domain.FulfillmentMethod) ([]domain.LineItem, domain.Totals, error) {
	items := make([]domain.LineItem, 0, len(cart))
	for _, ci := range cart {
		p, err := uc.catalog.PriceByProductID(ctx, ci.ProductID)
		if err != nil {
			if errors.Is(err, ErrUnknownProduct) {
				return nil, domain.Totals{}, err
			}
			return nil, domain.Totals{}, fmt.Errorf("%w: catalog: %v", ErrStoreUnavailable, err)
		}
		li, err := domain.NewLineItem(p.ID, p.Name, p.Price, ci.Quantity)
		if err != nil {
			return nil, domain.Totals{}, fmt.Errorf("%w: %s: %v", ErrInvalidCart, ci.ProductID, err)
		}
		items = append(items, li)
	}
	totals, err := pricing.ComputeTotals(items, method, uc.cfg.Pricing)
	if err != nil {
		return nil, domain.Totals{}, fmt.Errorf("%w: %w", ErrInvalidCart, err)
	}
	return items, totals, nil
}

// acquire takes the idempotency lock and returns its token. While another
// submission holds it, acquire polls until that submission's order shows up,
// the lock frees, or LockWait runs out.
func (uc *Checkout) acquire(ctx context.Context, key string) (*domain.Order, string, error) {
	deadline := uc.now().Add(uc.cfg.LockWait)
	for {
		token, ok, err := uc.idem.TryLock(ctx, lockScope, key)
		if err != nil {
			return nil, "", fmt.Errorf("%w: idempotency lock: %v", ErrStoreUnavailable, err)
		}
		prior, lerr := uc.lookup(ctx, key)
		if lerr != nil {
			if ok {
				uc.release(ctx, key, token)
			}
			return nil, "", lerr
		}
		if ok {
			if prior != nil {
				uc.release(ctx, key, token)
				return prior, "", nil
			}
			return nil, token, nil
		}
		if prior != nil {
			return prior, "", nil
		}
		if uc.now().After(deadline) {
			return nil, "", ErrCheckoutInProgress
		}
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(uc.cfg.PollInterval):
		}
	}
}

func (uc *Checkout) release(ctx context.Context, key, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := uc.idem.Release(rctx, lockScope, key, token); err != nil {
		logging.FromCtx(ctx).Warn("idempotency release failed", "err", err)
	}
}

// lookup finds an order already stored for key, or returns nil.
func (uc *Checkout) lookup(ctx context.Context, key string) (*domain.Order, error) {
	if id, ok, err := uc.idem.Recall(ctx, lockScope, key); err == nil && ok {
		o, err := uc.orders.GetByID(ctx, id)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	o, err := uc.orders.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (uc *Checkout) newOrder(in CheckoutInput, fp string, items []domain.LineItem, totals domain.Totals) *domain.Order {
	now := uc.now().UTC()
	o := &domain.Order{
		ID:                  NewOrderID(),
		IdempotencyKey:      in.IdempotencyKey,
		RequestHash:         fp,
		Items:               items,
		Customer:            normalizeCustomer(in.Customer),
		Totals:              totals,
		Currency:            uc.cfg.Currency,
		FulfillmentMethod:   in.FulfillmentMethod,
		SpecialInstructions: strings.TrimSpace(in.SpecialInstructions),
		Status:              domain.StatusPending,
		PaymentKind:         in.PaymentMethod.Kind,
		PaymentStatus:       domain.PaymentPending,
		CardReference:       in.PaymentMethod.CardReference(),
		CreatedAt:           now,
	}
	if o.PaymentKind == domain.PaymentKindGateway {
		o.PaymentReference = paymentReference(in.IdempotencyKey)
	}
	if o.FulfillmentMethod == domain.FulfillmentDelivery {
		eta := now.Add(uc.cfg.DeliveryETA)
		o.EstimatedFulfillmentDate = &eta
	}
	return o
}

// persist stores the order. After a charge was sent it runs detached from the
// caller and retries, since the charge must end up on an order.
func (uc *Checkout) persist(ctx context.Context, o *domain.Order, charged bool) (*domain.Order, error) {
	if charged {
		ctx = context.WithoutCancel(ctx)
	}
	attempts := uc.cfg.PersistAttempts
	if !charged || attempts < 1 {
		attempts = 1
	}
	backoff := uc.cfg.PersistBackoff

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			logging.FromCtx(ctx).Warn("retrying order persist", "order_id", o.ID, "attempt", i+1, "err", lastErr)
			time.Sleep(backoff)
			backoff *= 2
		}
		stored, _, err := uc.orders.Create(ctx, o)
		if err == nil {
			return uc.confirmPaid(ctx, stored), nil
		}
		lastErr = err
		if !errors.Is(err, ErrStoreUnavailable) {
			break
		}
	}
	return nil, lastErr
}

// confirmPaid moves a freshly stored, paid order to confirmed. A failure
// leaves it pending with its payment recorded, which staff can still confirm.
func (uc *Checkout) confirmPaid(ctx context.Context, o *domain.Order) *domain.Order {
	if o.Status != domain.StatusPending || o.PaymentStatus != domain.PaymentSucceeded {
		return o
	}
	confirmed, err := uc.orders.TransitionStatus(context.WithoutCancel(ctx), o.ID, domain.StatusConfirmed)
	if err != nil {
		logging.FromCtx(ctx).Warn("auto confirm failed", "order_id", o.ID, "err", err)
		return o
	}
	return confirmed
}

func applyOutcome(o *domain.Order, out PaymentOutcome) {
	switch {
	case o.PaymentKind == domain.PaymentKindCash:
		o.PaymentStatus = domain.PaymentPending
	case out.Success:
		o.PaymentStatus = domain.PaymentSucceeded
		o.PaymentID = out.ChargeID
	case out.Unknown:
		o.PaymentStatus = domain.PaymentPending
	default:
		o.PaymentStatus = domain.PaymentFailed
		o.PaymentFailureReason = clipReason(out.FailureReason)
	}
}

func clipReason(reason string) string {
	if utf8.RuneCountInString(reason) <= maxReasonLen {
		return reason
	}
	return string([]rune(reason)[:maxReasonLen])
}

func replay(o *domain.Order, fp string) (CheckoutResult, error) {
	if o.RequestHash != "" && o.RequestHash != fp {
		return CheckoutResult{}, ErrIdempotencyConflict
	}
	return resultFor(o, true), nil
}

func resultFor(o *domain.Order, replayed bool) CheckoutResult {
	r := CheckoutResult{Order: o, Replayed: replayed}
	switch {
	case o.PaymentStatus == domain.PaymentSucceeded:
		r.Success = true
	case o.PaymentStatus == domain.PaymentFailed:
		r.FailureReason = o.PaymentFailureReason
	case o.PaymentKind == domain.PaymentKindCash:
		r.Success = true
	default:
		r.Processing = true
	}
	return r
}

func outcomeLabel(res CheckoutResult, err error) string {
	switch {
	case err != nil:
		return "error_" + KindOf(err).String()
	case res.Replayed:
		return "replayed"
	case res.Processing:
		return "processing"
	case res.Success:
		return "success"
	}
	return "declined"
}
