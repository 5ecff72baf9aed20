package cache

import (
	"context"
	"errors"
	"time"

	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore holds checkout locks and key to order mappings.
// Locks are never refreshed: a lock left behind after a charge expires with ttl.
// Each lock stores its holder's token, so a holder whose lock expired cannot
// release the next holder's lock.
type RedisIdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotencyStore(rdb *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb, ttl: ttl}
}

func lockKey(scope, key string) string { return "idemp:" + scope + ":" + key }
func mapKey(scope, key string) string  { return "idemp:map:" + scope + ":" + key }

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisIdempotencyStore) TryLock(ctx context.Context, scope, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, lockKey(scope, key), token, s.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, scope, key, token string) error {
	if token == "" {
		return nil
	}
	return releaseScript.Run(ctx, s.rdb, []string{lockKey(scope, key)}, token).Err()
}

func (s *RedisIdempotencyStore) Remember(ctx context.Context, scope, key, value string) error {
	return s.rdb.Set(ctx, mapKey(scope, key), value, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, mapKey(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

var _ usecase.IdempotencyStore = (*RedisIdempotencyStore)(nil)
