package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/gin-gonic/gin"
)

type CheckoutHandler struct {
	uc      *usecase.Checkout
	timeout time.Duration
}

func NewCheckoutHandler(uc *usecase.Checkout, timeout time.Duration) *CheckoutHandler {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &CheckoutHandler{uc: uc, timeout: timeout}
}

type cartItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	// Price and Total are display values from the client and are ignored.
	Price any `json:"price,omitempty"`
	Total any `json:"total,omitempty"`
}

type customerReq struct {
	Name      string         `json:"name"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	Address   domain.Address `json:"address"`
}

type cardReq struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
	CVC      string `json:"cvc"`
	Name     string `json:"name"`
}

type paymentMethodReq struct {
	Kind  string   `json:"kind"` // gateway | cash
	Token string   `json:"token"`
	Card  *cardReq `json:"card"`
}

type checkoutReq struct {
	IdempotencyKey      string           `json:"idempotencyKey"`
	Items               []cartItemReq    `json:"items"`
	CustomerInfo        customerReq      `json:"customerInfo"`
	PaymentMethod       paymentMethodReq `json:"paymentMethod"`
	FulfillmentMethod   string           `json:"fulfillmentMethod"`
	SpecialInstructions string           `json:"specialInstructions"`
}

type checkoutResp struct {
	Success       bool      `json:"success"`
	Processing    bool      `json:"processing,omitempty"`
	Replayed      bool      `json:"replayed,omitempty"`
	OrderID       string    `json:"orderId"`
	Order         orderView `json:"order"`
	Message       string    `json:"message"`
	FailureReason string    `json:"failureReason,omitempty"`
}

// Checkout handles POST /v1/checkout. The idempotency key comes from the
// Idempotency-Key header, X-Idempotency-Key, or the body, in that order.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "bad_request", Message: "request body must be valid JSON"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.uc.Execute(ctx, req.toInput(idempotencyKey(c, req.IdempotencyKey)))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := checkoutResp{
		Success:    res.Success,
		Processing: res.Processing,
		Replayed:   res.Replayed,
		OrderID:    res.Order.ID,
		Order:      toOrderView(res.Order),
	}
	status := http.StatusOK
	switch {
	case res.Processing:
		status = http.StatusAccepted
		resp.Message = "Your payment is being processed. We will confirm your order shortly."
	case !res.Success:
		status = http.StatusPaymentRequired
		resp.FailureReason = res.FailureReason
		resp.Message = "Payment declined: " + res.FailureReason + ". Please try again with different payment details."
	default:
		resp.Message = "Order placed successfully"
	}
	if res.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	c.JSON(status, resp)
}

func idempotencyKey(c *gin.Context, fromBody string) string {
	for _, h := range []string{"Idempotency-Key", "X-Idempotency-Key"} {
		if v := strings.TrimSpace(c.GetHeader(h)); v != "" {
			return v
		}
	}
	return fromBody
}

func (r checkoutReq) toInput(key string) usecase.CheckoutInput {
	items := make([]usecase.CartItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, usecase.CartItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	name := strings.TrimSpace(r.CustomerInfo.Name)
	if name == "" {
		name = strings.TrimSpace(r.CustomerInfo.FirstName + " " + r.CustomerInfo.LastName)
	}

	pm := domain.PaymentMethod{Kind: paymentKind(r.PaymentMethod.Kind), Token: r.PaymentMethod.Token}
	if cd := r.PaymentMethod.Card; cd != nil {
		pm.Card = &domain.CardData{
			Number: cd.Number, ExpMonth: cd.ExpMonth, ExpYear: cd.ExpYear,
			CVC: cd.CVC, CardholderName: cd.Name,
		}
	}

	return usecase.CheckoutInput{
		IdempotencyKey: key,
		Items:          items,
		Customer: domain.CustomerInfo{
			Name:    name,
			Email:   r.CustomerInfo.Email,
			Phone:   r.CustomerInfo.Phone,
			Address: r.CustomerInfo.Address,
		},
		PaymentMethod:       pm,
		FulfillmentMethod:   domain.FulfillmentMethod(strings.ToLower(r.FulfillmentMethod)),
		SpecialInstructions: r.SpecialInstructions,
	}
}

// paymentKind accepts the storefront's legacy "clover" and "card" names.
func paymentKind(s string) domain.PaymentKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clover", "card", "gateway":
		return domain.PaymentKindGateway
	case "cash":
		return domain.PaymentKindCash
	}
	return domain.PaymentKind(s)
}
