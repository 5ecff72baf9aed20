package cache

import (
	"context"
	"errors"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/redis/go-redis/v9"
)

// RedisStatusCache keeps the latest known status per order for fast status reads.
type RedisStatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStatusCache(rdb *redis.Client, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{rdb: rdb, ttl: ttl}
}

func statusKey(orderID string) string { return "order:status:" + orderID }

func (c *RedisStatusCache) SetStatus(ctx context.Context, orderID string, status domain.Status) error {
	return c.rdb.Set(ctx, statusKey(orderID), string(status), c.ttl).Err()
}

func (c *RedisStatusCache) GetStatus(ctx context.Context, orderID string) (domain.Status, bool, error) {
	val, err := c.rdb.Get(ctx, statusKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	st, err := domain.ParseStatus(val)
	if err != nil {
		// stale or foreign value; fall back to the store
		return "", false, nil
	}
	return st, true, nil
}

var _ usecase.OrderCache = (*RedisStatusCache)(nil)
