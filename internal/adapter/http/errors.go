package http

import (
	"context"
	"errors"
	"net/http"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/gin-gonic/gin"
)

type errorResp struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	ProductID string `json:"productId,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch usecase.KindOf(err) {
	case usecase.KindValidation:
		return http.StatusBadRequest
	case usecase.KindDecline:
		return http.StatusPaymentRequired
	case usecase.KindConflict:
		return http.StatusConflict
	case usecase.KindInvariant:
		return http.StatusUnprocessableEntity
	case usecase.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, usecase.ErrMissingIdempotencyKey):
		return "missing_idempotency_key"
	case errors.Is(err, usecase.ErrInvalidIdempotencyKey):
		return "invalid_idempotency_key"
	case errors.Is(err, usecase.ErrInvalidCart):
		return "invalid_cart"
	case errors.Is(err, usecase.ErrMissingCustomerField):
		return "missing_customer_field"
	case errors.Is(err, usecase.ErrInvalidCustomer):
		return "invalid_customer"
	case errors.Is(err, usecase.ErrInvalidPaymentMethod):
		return "invalid_payment_method"
	case errors.Is(err, usecase.ErrUnknownProduct):
		return "unknown_product"
	case errors.Is(err, usecase.ErrCardRejected):
		return "card_rejected"
	case errors.Is(err, usecase.ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, usecase.ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, usecase.ErrCheckoutInProgress):
		return "checkout_in_progress"
	case errors.Is(err, usecase.ErrAlreadyRefunded):
		return "already_refunded"
	case errors.Is(err, usecase.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, usecase.ErrNotFound):
		return "not_found"
	case errors.Is(err, usecase.ErrPaymentNotRecorded), errors.Is(err, usecase.ErrOutcomeUnknown):
		return "payment_processing"
	case errors.Is(err, usecase.ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "server_error"
}

// messageFor never claims a charge did not happen when it might have.
func messageFor(err error) string {
	switch usecase.KindOf(err) {
	case usecase.KindValidation, usecase.KindConflict, usecase.KindInvariant, usecase.KindNotFound:
		return err.Error()
	case usecase.KindDecline:
		return "Your payment was declined. Please try again with different payment details."
	}
	if errors.Is(err, usecase.ErrPaymentNotRecorded) || errors.Is(err, usecase.ErrOutcomeUnknown) {
		return "Your payment is being processed. Please do not resubmit; we will confirm your order shortly."
	}
	if errors.Is(err, usecase.ErrGatewayUnavailable) {
		return "The payment service is unavailable and your card was not charged. Please try again."
	}
	return "Something went wrong. Please check your order status before trying again."
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := errorResp{Error: codeFor(err), Message: messageFor(err)}

	var fe *usecase.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
	}
	var upe *usecase.UnknownProductError
	if errors.As(err, &upe) {
		resp.ProductID = upe.ProductID
	}
	var te *usecase.TransitionError
	if errors.As(err, &te) {
		resp.From, resp.To = string(te.From), string(te.To)
	}

	l := logging.From(c)
	if status >= http.StatusInternalServerError {
		var nr *usecase.NotRecordedError
		if errors.As(err, &nr) {
			l.Error("request failed", "err", err, "charge_id", nr.ChargeID)
		} else {
			l.Error("request failed", "err", err)
		}
	} else {
		l.Info("request rejected", "code", resp.Error, "err", err)
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}

// statusParam rejects unknown status names before they reach the lifecycle.
func statusParam(s string) (domain.Status, error) {
	st, err := domain.ParseStatus(s)
	if err != nil {
		return "", &usecase.TransitionError{To: domain.Status(s), Reason: "unknown status"}
	}
	return st, nil
}
