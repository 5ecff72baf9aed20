package usecase

import "time"

// Outbox channels, also used as RabbitMQ routing keys.
const (
	ChannelOrderPlaced        = "order.placed"
	ChannelOrderStatusChanged = "order.status_changed"
)

// Published after an order is stored, whatever its payment outcome.
type OrderPlacedMsg struct {
	OrderID           string    `json:"orderId"`
	CustomerName      string    `json:"customerName"`
	CustomerEmail     string    `json:"customerEmail"`
	GrandTotal        string    `json:"grandTotal"`
	Currency          string    `json:"currency"`
	FulfillmentMethod string    `json:"fulfillmentMethod"`
	Status            string    `json:"status"`
	PaymentStatus     string    `json:"paymentStatus"`
	ItemCount         int       `json:"itemCount"`
	CreatedAt         time.Time `json:"createdAt"`
}

type OrderStatusChangedMsg struct {
	OrderID       string    `json:"orderId"`
	CustomerEmail string    `json:"customerEmail"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	PaymentStatus string    `json:"paymentStatus"`
	ChangedAt     time.Time `json:"changedAt"`
}

// Sent by the payment gateway on Kafka when a charge settles.
type GatewayEventMsg struct {
	Type          string `json:"type"` // e.g. "charge.succeeded"
	ChargeID      string `json:"chargeId"`
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	FailureReason string `json:"failureReason,omitempty"`
}
