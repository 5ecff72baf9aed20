package cache

import (
	"context"
	"sync"
	"time"

	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/google/uuid"
)

// MemoryIdempotencyStore is the single-process stand-in for Redis.
type MemoryIdempotencyStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	locks  map[string]memValue
	values map[string]memValue
}

type memValue struct {
	val     string
	expires time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		ttl:    ttl,
		now:    time.Now,
		locks:  map[string]memValue{},
		values: map[string]memValue{},
	}
}

func (s *MemoryIdempotencyStore) TryLock(_ context.Context, scope, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := lockKey(scope, key)
	if l, ok := s.locks[k]; ok && s.now().Before(l.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.locks[k] = memValue{val: token, expires: s.now().Add(s.ttl)}
	return token, true, nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, scope, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := lockKey(scope, key)
	if l, ok := s.locks[k]; ok && l.val == token {
		delete(s.locks, k)
	}
	return nil
}

func (s *MemoryIdempotencyStore) Remember(_ context.Context, scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[mapKey(scope, key)] = memValue{val: value, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Recall(_ context.Context, scope, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[mapKey(scope, key)]
	if !ok || !s.now().Before(v.expires) {
		return "", false, nil
	}
	return v.val, true, nil
}

var _ usecase.IdempotencyStore = (*MemoryIdempotencyStore)(nil)
