package usecase

import (
	"errors"
	"fmt"

	domain "github.com/aq2208/garden-checkout/internal/entity"
)

var (
	ErrInvalidCart           = errors.New("invalid cart")
	ErrMissingCustomerField  = errors.New("missing customer field")
	ErrInvalidCustomer       = errors.New("invalid customer info")
	ErrInvalidPaymentMethod  = errors.New("invalid payment method")
	ErrUnknownProduct        = errors.New("unknown product")
	ErrMissingIdempotencyKey = errors.New("idempotency key required")
	ErrInvalidIdempotencyKey = errors.New("idempotency key too long")

	ErrCardRejected    = errors.New("card rejected")
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrGatewayUnavailable means the gateway did not process the request.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrOutcomeUnknown means a request reached the gateway but no answer came back.
	ErrOutcomeUnknown     = errors.New("payment gateway outcome unknown")
	ErrStoreUnavailable   = errors.New("order store unavailable")
	ErrPaymentNotRecorded = errors.New("payment taken but order not recorded")

	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different payload")
	ErrCheckoutInProgress  = errors.New("checkout with this idempotency key is in progress")

	ErrAlreadyRefunded = errors.New("charge already refunded")

	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// Kind groups errors by who has to act on them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDecline
	KindConflict
	KindInvariant
	KindNotFound
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDecline:
		return "decline"
	case KindConflict:
		return "conflict"
	case KindInvariant:
		return "invariant"
	case KindNotFound:
		return "not_found"
	case KindInfrastructure:
		return "infrastructure"
	}
	return "internal"
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidCart),
		errors.Is(err, ErrMissingCustomerField),
		errors.Is(err, ErrInvalidCustomer),
		errors.Is(err, ErrInvalidPaymentMethod),
		errors.Is(err, ErrUnknownProduct),
		errors.Is(err, ErrMissingIdempotencyKey),
		errors.Is(err, ErrInvalidIdempotencyKey):
		return KindValidation
	case errors.Is(err, ErrCardRejected), errors.Is(err, ErrPaymentDeclined):
		return KindDecline
	case errors.Is(err, ErrIdempotencyConflict), errors.Is(err, ErrCheckoutInProgress), errors.Is(err, ErrAlreadyRefunded):
		return KindConflict
	case errors.Is(err, ErrInvalidTransition):
		return KindInvariant
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrGatewayUnavailable),
		errors.Is(err, ErrOutcomeUnknown),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrPaymentNotRecorded):
		return KindInfrastructure
	}
	return KindInternal
}

// FieldError names the customer field that failed validation.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("%v: %s", e.Err, e.Field) }
func (e *FieldError) Unwrap() error { return e.Err }

type UnknownProductError struct {
	ProductID string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("unknown product %q", e.ProductID)
}
func (e *UnknownProductError) Unwrap() error { return ErrUnknownProduct }

// CardRejectedError is returned by gateways when tokenization refuses the card.
type CardRejectedError struct {
	Reason string
}

func (e *CardRejectedError) Error() string { return "card rejected: " + e.Reason }
func (e *CardRejectedError) Unwrap() error { return ErrCardRejected }

type TransitionError struct {
	From, To domain.Status
	Reason   string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotRecordedError carries the charge that must be reconciled by hand.
type NotRecordedError struct {
	ChargeID string
	Err      error
}

func (e *NotRecordedError) Error() string {
	return fmt.Sprintf("charge %s not recorded: %v", e.ChargeID, e.Err)
}
func (e *NotRecordedError) Unwrap() []error { return []error{ErrPaymentNotRecorded, e.Err} }
