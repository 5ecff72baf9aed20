package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/usecase"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends one outbox payload. RabbitPublisher is the production one.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
}

// LocalPublisher hands payloads straight to a Handler. It stands in for the
// broker when RabbitMQ is disabled; poison payloads are dropped.
type LocalPublisher struct {
	Handler Handler
}

func (p LocalPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	err := p.Handler.Handle(ctx, amqp.Delivery{RoutingKey: routingKey, Body: payload})
	if errors.Is(err, ErrPoison) {
		logging.FromCtx(ctx).Error("dropping poison message", "rk", routingKey, "err", err)
		return nil
	}
	return err
}

// OutboxRelay drains pending outbox rows to a Publisher. Delivery is at least
// once: a row published but not marked sent goes out again.
type OutboxRelay struct {
	reader     usecase.OutboxReader
	pub        Publisher
	interval   time.Duration
	batch      int
	maxBackoff time.Duration
	now        func() time.Time
	log        *slog.Logger
}

func NewOutboxRelay(reader usecase.OutboxReader, pub Publisher, interval time.Duration, batch int, maxBackoff time.Duration) *OutboxRelay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Minute
	}
	return &OutboxRelay{
		reader:     reader,
		pub:        pub,
		interval:   interval,
		batch:      batch,
		maxBackoff: maxBackoff,
		now:        time.Now,
		log:        logging.New("outbox-relay"),
	}
}

// Run polls until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("outbox drain failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Drain publishes one batch and reports how many rows were sent.
func (r *OutboxRelay) Drain(ctx context.Context) (int, error) {
	recs, err := r.reader.FetchPending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		if err := r.pub.Publish(ctx, rec.Channel, rec.Payload); err != nil {
			next := r.now().Add(r.backoff(rec.RetryCount))
			r.log.Warn("outbox publish failed", "id", rec.ID, "channel", rec.Channel, "retry", rec.RetryCount, "next_attempt", next, "err", err)
			if merr := r.reader.MarkFailed(ctx, rec.ID, next); merr != nil {
				return sent, merr
			}
			continue
		}
		if err := r.reader.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// backoff doubles from the poll interval up to maxBackoff.
func (r *OutboxRelay) backoff(retries int) time.Duration {
	d := r.interval
	for i := 0; i < retries && d < r.maxBackoff; i++ {
		d *= 2
	}
	if d > r.maxBackoff {
		d = r.maxBackoff
	}
	return d
}
