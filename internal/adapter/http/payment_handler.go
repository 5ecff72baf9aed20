package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/gin-gonic/gin"
)

// PaymentHandler exposes staff refund and charge lookup.
type PaymentHandler struct {
	payments *usecase.PaymentOrchestrator
	timeout  time.Duration
}

func NewPaymentHandler(payments *usecase.PaymentOrchestrator, timeout time.Duration) *PaymentHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PaymentHandler{payments: payments, timeout: timeout}
}

func (h *PaymentHandler) Retrieve(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	ch, err := h.payments.Retrieve(ctx, c.Param("chargeId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": gin.H{
		"id":            ch.ID,
		"status":        ch.Status,
		"amountCents":   ch.AmountCents,
		"currency":      ch.Currency,
		"refunded":      ch.Refunded,
		"failureReason": ch.FailureReason,
		"metadata":      ch.Metadata,
	}})
}

type refundReq struct {
	OrderID     string `json:"orderId"`
	AmountCents int64  `json:"amountCents" binding:"gte=0"`
}

// Refund refunds amountCents, or the whole charge when it is omitted.
// Cancelling the order through the status endpoint is the usual path.
func (h *PaymentHandler) Refund(c *gin.Context) {
	var req refundReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResp{Error: "bad_request", Message: "amountCents must not be negative"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	chargeID := c.Param("chargeId")
	if err := h.payments.Refund(ctx, req.OrderID, chargeID, req.AmountCents); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chargeId": chargeID, "amountCents": req.AmountCents})
}
