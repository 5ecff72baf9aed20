package usecase

import (
	"context"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/shopspring/decimal"
)

// OrderRepo is the durable order store. Create is an atomic insert-if-absent
// on the idempotency key: a second insert with the same key returns ErrDuplicateKey.
type OrderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	ListByEmail(ctx context.Context, email string) ([]*domain.Order, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Order, error)
	// UpdateStatusIf reports false when the order is missing or no longer in from.
	UpdateStatusIf(ctx context.Context, id string, from, to domain.Status) (bool, error)
	// ResolvePayment applies r only while the payment is still pending.
	ResolvePayment(ctx context.Context, id string, r PaymentResolution) (bool, error)
}

// PaymentResolution settles a pending gateway payment.
type PaymentResolution struct {
	PaymentID     string
	PaymentStatus domain.PaymentStatus
	FailureReason string
	// Status is the order status to store alongside; empty leaves it unchanged.
	Status domain.Status
}

type OutboxRepo interface {
	Enqueue(ctx context.Context, channel string, payload []byte) error
}

type OutboxRecord struct {
	ID         int64
	Channel    string
	Payload    []byte
	RetryCount int
	CreatedAt  time.Time
}

// OutboxReader is drained by the relay that publishes events.
type OutboxReader interface {
	FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, nextAttempt time.Time) error
}

type OrderCache interface {
	SetStatus(ctx context.Context, orderID string, status domain.Status) error
	GetStatus(ctx context.Context, orderID string) (domain.Status, bool, error)
}

// IdempotencyStore locks are owned by the token TryLock hands out; Release
// only frees the lock while that token still holds it.
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (token string, ok bool, err error)
	Release(ctx context.Context, scope, key, token string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

// Product is the catalog's canonical view of a sellable item.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Catalog returns an *UnknownProductError when id does not exist.
type Catalog interface {
	PriceByProductID(ctx context.Context, id string) (Product, error)
}

type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
	ChargePending   ChargeStatus = "pending"
)

type ChargeRequest struct {
	Token        string
	AmountCents  int64
	Currency     string
	Description  string
	ReceiptEmail string
	Metadata     map[string]string
	// IdempotencyKey is forwarded to gateways that deduplicate charges.
	IdempotencyKey string
}

// RefundRequest returns AmountCents of a charge, or all of it when zero.
// Requests sharing an IdempotencyKey refund at most once.
type RefundRequest struct {
	ChargeID       string
	AmountCents    int64
	IdempotencyKey string
}

type Charge struct {
	ID            string
	Status        ChargeStatus
	FailureReason string
	AmountCents   int64
	Currency      string
	Refunded      bool
	Metadata      map[string]string
}

// PaymentGateway is the external card processor. Tokenize reports refused
// cards with *CardRejectedError. Transport failures wrap ErrGatewayUnavailable
// when the request was not processed and ErrOutcomeUnknown otherwise.
type PaymentGateway interface {
	Tokenize(ctx context.Context, card domain.CardData) (string, error)
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
	// Refund fails with ErrAlreadyRefunded when a different request already
	// refunded the charge.
	Refund(ctx context.Context, req RefundRequest) error
	Retrieve(ctx context.Context, chargeID string) (Charge, error)
}

type Metrics interface {
	CheckoutOutcome(outcome string)
	GatewayCall(op, result string, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) CheckoutOutcome(string)                    {}
func (nopMetrics) GatewayCall(string, string, time.Duration) {}
