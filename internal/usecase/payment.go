package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/paymentlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/aq2208/garden-checkout/internal/usecase")

type PaymentRequest struct {
	OrderID       string
	Method        domain.PaymentMethod
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
	Metadata      map[string]string
	// Reference is sent as the gateway idempotency key.
	Reference string
}

// PaymentOutcome is the normalized result of one payment attempt.
type PaymentOutcome struct {
	Success       bool
	ChargeID      string
	FailureReason string
	// Unknown is set when a charge was sent and its result never came back.
	Unknown bool
	// Charged is set once a charge request has been dispatched.
	Charged bool
}

type PaymentOrchestrator struct {
	gw              PaymentGateway
	log             paymentlog.Repository
	metrics         Metrics
	tokenizeTimeout time.Duration
	chargeTimeout   time.Duration
}

type PaymentOption func(*PaymentOrchestrator)

func WithPaymentLog(r paymentlog.Repository) PaymentOption {
	return func(p *PaymentOrchestrator) { p.log = r }
}
func WithPaymentMetrics(m Metrics) PaymentOption {
	return func(p *PaymentOrchestrator) { p.metrics = m }
}
func WithGatewayTimeouts(tokenize, charge time.Duration) PaymentOption {
	return func(p *PaymentOrchestrator) { p.tokenizeTimeout, p.chargeTimeout = tokenize, charge }
}

func NewPaymentOrchestrator(gw PaymentGateway, opts ...PaymentOption) *PaymentOrchestrator {
	p := &PaymentOrchestrator{
		gw:              gw,
		log:             paymentlog.Discard{},
		metrics:         nopMetrics{},
		tokenizeTimeout: 5 * time.Second,
		chargeTimeout:   15 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs tokenize and charge for one checkout attempt. A decline is
// returned as an outcome, never as an error. Errors are infrastructure
// failures that happened before any money could have moved, or the caller's
// own cancellation before the charge was sent.
func (p *PaymentOrchestrator) Process(ctx context.Context, req PaymentRequest) (PaymentOutcome, error) {
	if req.Method.Kind == domain.PaymentKindCash {
		return PaymentOutcome{Success: true}, nil
	}
	if req.Method.Kind != domain.PaymentKindGateway {
		return PaymentOutcome{}, fmt.Errorf("%w: kind %q", ErrInvalidPaymentMethod, req.Method.Kind)
	}
	if req.AmountCents <= 0 {
		return PaymentOutcome{}, fmt.Errorf("%w: amount must be positive", ErrInvalidCart)
	}

	token := req.Method.Token
	if token == "" {
		if req.Method.Card == nil {
			return PaymentOutcome{}, fmt.Errorf("%w: token or card required", ErrInvalidPaymentMethod)
		}
		var rejected *CardRejectedError
		tok, err := p.tokenize(ctx, req.OrderID, *req.Method.Card)
		switch {
		case errors.As(err, &rejected):
			return PaymentOutcome{FailureReason: rejected.Reason}, nil
		case err != nil:
			return PaymentOutcome{}, err
		}
		token = tok
	}

	// last point where the caller may still walk away
	if err := ctx.Err(); err != nil {
		return PaymentOutcome{}, err
	}
	return p.charge(ctx, req, token)
}

func (p *PaymentOrchestrator) tokenize(ctx context.Context, orderID string, card domain.CardData) (string, error) {
	ctx, span := tracer.Start(ctx, "payment.tokenize")
	defer span.End()

	tctx, cancel := context.WithTimeout(ctx, p.tokenizeTimeout)
	defer cancel()

	start := time.Now()
	tok, err := p.gw.Tokenize(tctx, card)
	entry := &paymentlog.Entry{OrderID: orderID, Operation: paymentlog.OpTokenize, Result: paymentlog.ResultOK}

	var rejected *CardRejectedError
	switch {
	case err == nil && tok == "":
		err = fmt.Errorf("%w: empty token", ErrGatewayUnavailable)
		fallthrough
	case err != nil && !errors.As(err, &rejected):
		if ctx.Err() != nil {
			// caller cancelled, not a gateway problem
			err = ctx.Err()
		} else if !errors.Is(err, ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: tokenize: %v", ErrGatewayUnavailable, err)
		}
		entry.Result, entry.Detail = paymentlog.ResultError, err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "tokenize failed")
	case err != nil:
		entry.Result, entry.Detail = paymentlog.ResultDeclined, rejected.Reason
		span.SetAttributes(attribute.String("payment.decline_reason", rejected.Reason))
	}
	p.metrics.GatewayCall(string(paymentlog.OpTokenize), string(entry.Result), time.Since(start))
	p.audit(ctx, entry)
	return tok, err
}

// charge runs detached from the caller. Once it is sent its result has to be
// recorded even if nobody is waiting for the response any more.
func (p *PaymentOrchestrator) charge(ctx context.Context, req PaymentRequest, token string) (PaymentOutcome, error) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "payment.charge")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID), attribute.Int64("payment.amount_cents", req.AmountCents))

	cctx, cancel := context.WithTimeout(ctx, p.chargeTimeout)
	defer cancel()

	start := time.Now()
	ch, err := p.gw.Charge(cctx, ChargeRequest{
		Token:          token,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Description:    req.Description,
		ReceiptEmail:   req.CustomerEmail,
		Metadata:       req.Metadata,
		IdempotencyKey: req.Reference,
	})
	entry := &paymentlog.Entry{
		OrderID: req.OrderID, Operation: paymentlog.OpCharge,
		ChargeID: ch.ID, AmountCents: req.AmountCents,
	}
	defer func() {
		p.metrics.GatewayCall(string(paymentlog.OpCharge), string(entry.Result), time.Since(start))
		p.audit(ctx, entry)
	}()

	switch {
	case errors.Is(err, ErrGatewayUnavailable):
		entry.Result, entry.Detail = paymentlog.ResultError, err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway unavailable")
		return PaymentOutcome{}, err
	case err != nil:
		entry.Result, entry.Detail = paymentlog.ResultUnknown, err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge outcome unknown")
		logging.FromCtx(ctx).Error("charge outcome unknown", "order_id", req.OrderID, "err", err)
		return PaymentOutcome{Unknown: true, Charged: true, FailureReason: err.Error()}, nil
	}

	switch ch.Status {
	case ChargeSucceeded:
		if ch.ID == "" {
			entry.Result, entry.Detail = paymentlog.ResultUnknown, "succeeded without charge id"
			return PaymentOutcome{Unknown: true, Charged: true, FailureReason: entry.Detail}, nil
		}
		entry.Result = paymentlog.ResultOK
		return PaymentOutcome{Success: true, Charged: true, ChargeID: ch.ID}, nil
	case ChargeFailed:
		reason := ch.FailureReason
		if reason == "" {
			reason = "payment declined"
		}
		entry.Result, entry.Detail = paymentlog.ResultDeclined, reason
		span.SetAttributes(attribute.String("payment.decline_reason", reason))
		return PaymentOutcome{Charged: true, ChargeID: ch.ID, FailureReason: reason}, nil
	default:
		entry.Result, entry.Detail = paymentlog.ResultUnknown, "charge status "+string(ch.Status)
		return PaymentOutcome{Unknown: true, Charged: true, ChargeID: ch.ID}, nil
	}
}

// Refund returns money for a succeeded charge. amountCents 0 refunds in full.
// Repeating the same refund is safe: the gateway sees the same idempotency key.
func (p *PaymentOrchestrator) Refund(ctx context.Context, orderID, chargeID string, amountCents int64) error {
	ctx, span := tracer.Start(ctx, "payment.refund")
	defer span.End()

	start := time.Now()
	err := p.gw.Refund(ctx, RefundRequest{
		ChargeID:       chargeID,
		AmountCents:    amountCents,
		IdempotencyKey: refundKey(chargeID, amountCents),
	})
	entry := &paymentlog.Entry{
		OrderID: orderID, Operation: paymentlog.OpRefund, Result: paymentlog.ResultOK,
		ChargeID: chargeID, AmountCents: amountCents,
	}
	if err != nil {
		if !errors.Is(err, ErrGatewayUnavailable) && !errors.Is(err, ErrOutcomeUnknown) &&
			!errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyRefunded) {
			err = fmt.Errorf("%w: refund: %v", ErrGatewayUnavailable, err)
		}
		entry.Result, entry.Detail = paymentlog.ResultError, err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "refund failed")
	}
	p.metrics.GatewayCall(string(paymentlog.OpRefund), string(entry.Result), time.Since(start))
	p.audit(ctx, entry)
	return err
}

func refundKey(chargeID string, amountCents int64) string {
	if amountCents == 0 {
		return "refund-" + chargeID
	}
	return fmt.Sprintf("refund-%s-%d", chargeID, amountCents)
}

func (p *PaymentOrchestrator) Retrieve(ctx context.Context, chargeID string) (Charge, error) {
	start := time.Now()
	ch, err := p.gw.Retrieve(ctx, chargeID)
	result := paymentlog.ResultOK
	if err != nil {
		result = paymentlog.ResultError
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: retrieve: %v", ErrGatewayUnavailable, err)
		}
	}
	p.metrics.GatewayCall(string(paymentlog.OpRetrieve), string(result), time.Since(start))
	return ch, err
}

func (p *PaymentOrchestrator) audit(ctx context.Context, e *paymentlog.Entry) {
	e.Stamp(ctx)
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.log.Append(actx, e); err != nil {
		logging.FromCtx(ctx).Warn("payment audit append failed", "order_id", e.OrderID, "op", e.Operation, "err", err)
	}
}
