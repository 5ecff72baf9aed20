package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/usecase"
)

// HandlerFunc processes a decoded event.
type HandlerFunc func(ctx context.Context, ev usecase.GatewayEventMsg) error

// Consumer consumes a topic with a single handler.
type Consumer struct {
	Group    sarama.ConsumerGroup
	Topics   []string
	Handle   HandlerFunc
	Logger   *slog.Logger
	Attempts int
	Backoff  time.Duration
}

func NewConsumer(group sarama.ConsumerGroup, topics []string, h HandlerFunc) *Consumer {
	return &Consumer{
		Group:    group,
		Topics:   topics,
		Handle:   h,
		Logger:   logging.New("kafka-consumer"),
		Attempts: 3,
		Backoff:  500 * time.Millisecond,
	}
}

// Start blocks until ctx is cancelled or the group fails.
func (c *Consumer) Start(ctx context.Context) error {
	go func() {
		for err := range c.Group.Errors() {
			c.Logger.Warn("consumer group error", "err", err)
		}
	}()

	handler := &cgHandler{c: c}
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			return err
		}
		// Consume returns on rebalance or cancellation.
		if ctx.Err() != nil {
			return nil
		}
	}
}

type cgHandler struct {
	c *Consumer
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks a message only after it was handled or found
// undecodable. A handler that keeps failing ends the claim so the message is
// redelivered after the session restarts.
func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		l := h.c.Logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

		var ev usecase.GatewayEventMsg
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			l.Error("kafka decode error", "err", err, "key", string(msg.Key))
			sess.MarkMessage(msg, "decode-error")
			continue
		}

		ctx := logging.WithCtx(sess.Context(), l)
		if err := h.handle(ctx, ev); err != nil {
			l.Error("handler failed, releasing claim", "err", err, "charge_id", ev.ChargeID)
			return fmt.Errorf("handle offset %d: %w", msg.Offset, err)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

func (h *cgHandler) handle(ctx context.Context, ev usecase.GatewayEventMsg) error {
	attempts := h.c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := h.c.Backoff
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = h.c.Handle(ctx, ev); err == nil {
			return nil
		}
	}
	return err
}
