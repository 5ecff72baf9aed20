package http

import (
	"log/slog"
	"net/http"

	"github.com/aq2208/garden-checkout/internal/adapter/http/middleware"
	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Checkout *CheckoutHandler
	Orders   *OrderHandler
	Payments *PaymentHandler
	Token    *TokenHandler
	Authz    *middleware.Authz
	Log      *slog.Logger
}

func NewRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())

	l := h.Log
	if l == nil {
		l = logging.New("http")
	}
	r.Use(middleware.Logging(l))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/v1/token", h.Token.IssueToken)

	v1 := r.Group("/v1")
	{
		v1.POST("/checkout", h.Checkout.Checkout)

		v1.GET("/orders/:id", h.Orders.GetOrderByID)
		v1.GET("/orders/:id/status", h.Orders.GetOrderStatus)
		v1.GET("/orders", h.listOrders())
		v1.PUT("/orders/:id/status", h.Authz.Require(security.PermOrdersWrite), h.Orders.UpdateStatus)

		pay := v1.Group("/payments", h.Authz.Require(security.PermPaymentsAdmin))
		pay.GET("/:chargeId", h.Payments.Retrieve)
		pay.POST("/:chargeId/refund", h.Payments.Refund)
	}

	return r
}

// listOrders filters by ?email for customers; the unfiltered listing is staff only.
func (h Handlers) listOrders() gin.HandlerFunc {
	staff := h.Authz.Require(security.PermOrdersRead)
	return func(c *gin.Context) {
		if _, ok := c.GetQuery("email"); ok {
			h.Orders.ListByEmail(c)
			return
		}
		staff(c)
		if c.IsAborted() {
			return
		}
		h.Orders.ListAll(c)
	}
}
