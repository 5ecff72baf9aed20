package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/usecase"
)

// Notification is one customer-facing message.
type Notification struct {
	To      string
	Subject string
	Body    string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct{ Log *slog.Logger }

func (n LogNotifier) Notify(ctx context.Context, msg Notification) error {
	l := n.Log
	if l == nil {
		l = logging.FromCtx(ctx)
	}
	l.Info("notification", "to", msg.To, "subject", msg.Subject)
	return nil
}

// NotificationHandler turns order events into customer notifications.
type NotificationHandler struct {
	n         Notifier
	storeName string
}

func NewNotificationHandler(n Notifier, storeName string) *NotificationHandler {
	return &NotificationHandler{n: n, storeName: storeName}
}

// Mux routes both order channels for a single notification queue.
func (h *NotificationHandler) Mux() KeyMux {
	return KeyMux{
		usecase.ChannelOrderPlaced:        JSONHandler[usecase.OrderPlacedMsg]{HandleFunc: h.OnOrderPlaced},
		usecase.ChannelOrderStatusChanged: JSONHandler[usecase.OrderStatusChangedMsg]{HandleFunc: h.OnStatusChanged},
	}
}

func (h *NotificationHandler) OnOrderPlaced(ctx context.Context, msg usecase.OrderPlacedMsg) error {
	if msg.OrderID == "" || msg.CustomerEmail == "" {
		return fmt.Errorf("%w: order.placed without order id or email", ErrPoison)
	}
	var subject, body string
	switch msg.PaymentStatus {
	case "failed":
		subject = fmt.Sprintf("%s: payment for order %s was declined", h.storeName, msg.OrderID)
		body = fmt.Sprintf("Hi %s, your payment of %s %s was declined. Your cart is saved; please try another card.",
			msg.CustomerName, msg.GrandTotal, msg.Currency)
	default:
		subject = fmt.Sprintf("%s: we received order %s", h.storeName, msg.OrderID)
		body = fmt.Sprintf("Hi %s, thanks for your order of %d item(s) totalling %s %s for %s.",
			msg.CustomerName, msg.ItemCount, msg.GrandTotal, msg.Currency, msg.FulfillmentMethod)
	}
	return h.n.Notify(ctx, Notification{To: msg.CustomerEmail, Subject: subject, Body: body})
}

// OnStatusChanged only notifies on moves a customer cares about.
func (h *NotificationHandler) OnStatusChanged(ctx context.Context, msg usecase.OrderStatusChangedMsg) error {
	if msg.OrderID == "" || msg.CustomerEmail == "" {
		return fmt.Errorf("%w: order.status_changed without order id or email", ErrPoison)
	}
	var body string
	switch msg.To {
	case "confirmed":
		body = "Your order is confirmed and being prepared."
	case "shipped":
		body = "Your order is on its way."
	case "delivered":
		body = "Your order was delivered. Enjoy your plants!"
	case "cancelled":
		body = "Your order was cancelled. Any card payment has been refunded."
	default:
		return nil
	}
	return h.n.Notify(ctx, Notification{
		To:      msg.CustomerEmail,
		Subject: fmt.Sprintf("%s: order %s is %s", h.storeName, msg.OrderID, msg.To),
		Body:    body,
	})
}
