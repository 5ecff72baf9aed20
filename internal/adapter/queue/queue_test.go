package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aq2208/garden-checkout/internal/adapter/repo"
	"github.com/aq2208/garden-checkout/internal/usecase"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (p *fakePublisher) Publish(_ context.Context, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.sent = append(p.sent, key+" "+string(payload))
	return nil
}

type fakeAck struct {
	acked, requeued, dropped int
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked++; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	if requeue {
		a.requeued++
	} else {
		a.dropped++
	}
	return nil
}
func (a *fakeAck) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

type recordingNotifier struct{ got []Notification }

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.got = append(n.got, msg)
	return nil
}

func TestOutboxRelayPublishesAndBacksOff(t *testing.T) {
	store := repo.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, usecase.ChannelOrderPlaced, []byte(`{"orderId":"ORD-1"}`)))
	require.NoError(t, store.Enqueue(ctx, usecase.ChannelOrderStatusChanged, []byte(`{"orderId":"ORD-1"}`)))

	pub := &fakePublisher{fail: true}
	relay := NewOutboxRelay(store, pub, time.Second, 10, time.Minute)

	sent, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	// rows are parked until their next attempt
	pending, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	pub.fail = false
	require.NoError(t, store.MarkFailed(ctx, 1, time.Now().Add(-time.Second)))
	require.NoError(t, store.MarkFailed(ctx, 2, time.Now().Add(-time.Second)))

	sent, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{
		`order.placed {"orderId":"ORD-1"}`,
		`order.status_changed {"orderId":"ORD-1"}`,
	}, pub.sent)

	sent, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestOutboxRelayBackoffCaps(t *testing.T) {
	r := NewOutboxRelay(repo.NewMemoryStore(), &fakePublisher{}, time.Second, 0, 10*time.Second)
	assert.Equal(t, time.Second, r.backoff(0))
	assert.Equal(t, 4*time.Second, r.backoff(2))
	assert.Equal(t, 10*time.Second, r.backoff(8))
}

func TestRouterAckNackDecisions(t *testing.T) {
	r := NewRouter(nil, WithTimeout(time.Second))
	ack := &fakeAck{}
	calls := 0
	h := JSONHandler[usecase.OrderPlacedMsg]{HandleFunc: func(_ context.Context, m usecase.OrderPlacedMsg) error {
		calls++
		if m.OrderID == "ORD-retry" {
			return errors.New("downstream busy")
		}
		return nil
	}}
	reg := registration{queueName: "q", handler: h}

	r.deliver(context.Background(), reg, amqp.Delivery{Acknowledger: ack, Body: []byte(`{"orderId":"ORD-1"}`)})
	r.deliver(context.Background(), reg, amqp.Delivery{Acknowledger: ack, Body: []byte(`{"orderId":"ORD-retry"}`)})
	r.deliver(context.Background(), reg, amqp.Delivery{Acknowledger: ack, Body: []byte(`not json`)})

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, 1, ack.requeued)
	assert.Equal(t, 1, ack.dropped)
}

func TestNotificationMuxRoutesByKey(t *testing.T) {
	n := &recordingNotifier{}
	mux := NewNotificationHandler(n, "Garden Center").Mux()
	ctx := context.Background()

	placed, _ := json.Marshal(usecase.OrderPlacedMsg{
		OrderID: "ORD-1", CustomerName: "Ana", CustomerEmail: "ana@example.com",
		GrandTotal: "32.46", Currency: "usd", FulfillmentMethod: "pickup", PaymentStatus: "succeeded", ItemCount: 1,
	})
	require.NoError(t, mux.Handle(ctx, amqp.Delivery{RoutingKey: usecase.ChannelOrderPlaced, Body: placed}))

	moved, _ := json.Marshal(usecase.OrderStatusChangedMsg{OrderID: "ORD-1", CustomerEmail: "ana@example.com", From: "confirmed", To: "processing"})
	require.NoError(t, mux.Handle(ctx, amqp.Delivery{RoutingKey: usecase.ChannelOrderStatusChanged, Body: moved}))

	shipped, _ := json.Marshal(usecase.OrderStatusChangedMsg{OrderID: "ORD-1", CustomerEmail: "ana@example.com", From: "processing", To: "shipped"})
	require.NoError(t, mux.Handle(ctx, amqp.Delivery{RoutingKey: usecase.ChannelOrderStatusChanged, Body: shipped}))

	require.NoError(t, mux.Handle(ctx, amqp.Delivery{RoutingKey: "inventory.low", Body: []byte(`{}`)}))

	require.Len(t, n.got, 2)
	assert.Equal(t, "ana@example.com", n.got[0].To)
	assert.Contains(t, n.got[0].Subject, "ORD-1")
	assert.Contains(t, n.got[0].Body, "32.46 usd")
	assert.Contains(t, n.got[1].Subject, "shipped")
}

func TestNotificationDeclineAndPoison(t *testing.T) {
	n := &recordingNotifier{}
	h := NewNotificationHandler(n, "Garden Center")
	ctx := context.Background()

	require.NoError(t, h.OnOrderPlaced(ctx, usecase.OrderPlacedMsg{OrderID: "ORD-2", CustomerEmail: "b@example.com", PaymentStatus: "failed"}))
	require.Len(t, n.got, 1)
	assert.Contains(t, n.got[0].Subject, "declined")

	err := h.OnOrderPlaced(ctx, usecase.OrderPlacedMsg{OrderID: "ORD-3"})
	assert.ErrorIs(t, err, ErrPoison)
}

func TestLocalPublisherFeedsNotifications(t *testing.T) {
	store := repo.NewMemoryStore()
	ctx := context.Background()
	placed, _ := json.Marshal(usecase.OrderPlacedMsg{OrderID: "ORD-9", CustomerEmail: "c@example.com", PaymentStatus: "succeeded"})
	require.NoError(t, store.Enqueue(ctx, usecase.ChannelOrderPlaced, placed))
	require.NoError(t, store.Enqueue(ctx, usecase.ChannelOrderPlaced, []byte(`{"orderId":`)))

	n := &recordingNotifier{}
	relay := NewOutboxRelay(store, LocalPublisher{Handler: NewNotificationHandler(n, "Garden Center").Mux()}, time.Second, 10, time.Minute)

	sent, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, n.got, 1)
	assert.Equal(t, "c@example.com", n.got[0].To)
}
