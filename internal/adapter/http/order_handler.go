package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	orders  *usecase.Orders
	timeout time.Duration
}

func NewOrderHandler(orders *usecase.Orders, timeout time.Duration) *OrderHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &OrderHandler{orders: orders, timeout: timeout}
}

func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	o, err := h.orders.GetByID(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": toOrderView(o)})
}

func (h *OrderHandler) GetOrderStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	id := c.Param("id")
	st, err := h.orders.Status(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": id, "status": st})
}

// ListByEmail serves GET /v1/orders?email=...
func (h *OrderHandler) ListByEmail(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListByEmail(ctx, c.Query("email"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": toOrderViews(orders)})
}

// ListAll serves the staff listing with limit/offset paging.
func (h *OrderHandler) ListAll(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.List(ctx, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": toOrderViews(orders), "limit": limit, "offset": offset})
}

type statusUpdateReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req statusUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "bad_request", Message: "status is required"})
		return
	}
	to, err := statusParam(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	// cancelling may issue a refund, so allow more than a plain lookup
	ctx, cancel := context.WithTimeout(c.Request.Context(), 4*h.timeout)
	defer cancel()

	o, err := h.orders.TransitionStatus(ctx, c.Param("id"), to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   toOrderView(o),
		"message": "Order status updated successfully",
	})
}
