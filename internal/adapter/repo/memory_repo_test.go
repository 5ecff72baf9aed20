package repo

import (
	"context"
	"testing"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreInsertIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, fernOrder()))

	dup := fernOrder()
	dup.ID = "ORD-2"
	assert.ErrorIs(t, s.Create(ctx, dup), usecase.ErrDuplicateKey)

	got, err := s.GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", got.ID)

	_, err = s.GetByID(ctx, "ORD-2")
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i, id := range []string{"ORD-A", "ORD-B", "ORD-C"} {
		o := fernOrder()
		o.ID, o.IdempotencyKey = id, id
		o.CreatedAt = o.CreatedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Create(ctx, o))
	}

	page, err := s.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "ORD-C", page[0].ID)
	assert.Equal(t, "ORD-B", page[1].ID)

	page, err = s.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "ORD-A", page[0].ID)

	byEmail, err := s.ListByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Len(t, byEmail, 3)
}

func TestMemoryStoreResolvePaymentOnlyWhilePending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	o := fernOrder()
	o.PaymentStatus, o.PaymentID = domain.PaymentPending, ""
	require.NoError(t, s.Create(ctx, o))

	ok, err := s.ResolvePayment(ctx, o.ID, usecase.PaymentResolution{PaymentID: "ch_2", PaymentStatus: domain.PaymentSucceeded, Status: domain.StatusConfirmed})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ResolvePayment(ctx, o.ID, usecase.PaymentResolution{PaymentStatus: domain.PaymentFailed})
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := s.GetByID(ctx, o.ID)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, "ch_2", got.PaymentID)
}

func TestMemoryStoreOutboxBackoff(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, usecase.ChannelOrderPlaced, []byte(`{"orderId":"ORD-1"}`)))
	recs, err := s.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, s.MarkFailed(ctx, recs[0].ID, now.Add(time.Minute)))
	recs, _ = s.FetchPending(ctx, 10)
	assert.Empty(t, recs)

	now = now.Add(2 * time.Minute)
	recs, _ = s.FetchPending(ctx, 10)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].RetryCount)

	require.NoError(t, s.MarkSent(ctx, recs[0].ID))
	recs, _ = s.FetchPending(ctx, 10)
	assert.Empty(t, recs)
}
