package queue

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPoison marks a delivery that can never succeed. The router drops it
// instead of requeueing.
var ErrPoison = errors.New("poison message")

// Handler processes a single delivery. It should be idempotent.
// Return nil => ACK; return error => NACK (requeue behavior controlled by Router).
type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery) error
}

// KeyMux routes deliveries of one queue by routing key. Keys without a
// handler are acked and ignored.
type KeyMux map[string]Handler

func (m KeyMux) Handle(ctx context.Context, d amqp.Delivery) error {
	h, ok := m[d.RoutingKey]
	if !ok {
		return nil
	}
	return h.Handle(ctx, d)
}
