package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/usecase"
)

// MemoryStore keeps orders and outbox rows in process. It backs the
// "memory" store driver used for local runs and demos.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*domain.Order
	byKey  map[string]string
	outbox []*memOutboxRow
	nextID int64
	now    func() time.Time
}

type memOutboxRow struct {
	rec         usecase.OutboxRecord
	sent        bool
	nextAttempt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  map[string]*domain.Order{},
		byKey: map[string]string{},
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := o.IdempotencyKey
	if key == "" {
		key = "order:" + o.ID
	}
	if _, ok := s.byKey[key]; ok {
		return usecase.ErrDuplicateKey
	}
	if _, ok := s.byID[o.ID]; ok {
		return usecase.ErrDuplicateKey
	}
	s.byKey[key] = o.ID
	s.byID[o.ID] = o.Clone()
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, usecase.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	s.mu.Lock()
	id, ok := s.byKey[key]
	s.mu.Unlock()
	if !ok {
		return nil, usecase.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryStore) ListByEmail(_ context.Context, email string) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.byID {
		if o.Customer.Email == email {
			out = append(out, o.Clone())
		}
	}
	newestFirst(out)
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*domain.Order, error) {
	s.mu.Lock()
	all := make([]*domain.Order, 0, len(s.byID))
	for _, o := range s.byID {
		all = append(all, o.Clone())
	}
	s.mu.Unlock()

	newestFirst(all)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) UpdateStatusIf(_ context.Context, id string, from, to domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (s *MemoryStore) ResolvePayment(_ context.Context, id string, r usecase.PaymentResolution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok || o.PaymentKind != domain.PaymentKindGateway || o.PaymentStatus != domain.PaymentPending {
		return false, nil
	}
	o.PaymentID = r.PaymentID
	o.PaymentStatus = r.PaymentStatus
	o.PaymentFailureReason = r.FailureReason
	if r.Status != "" && o.Status == domain.StatusPending {
		o.Status = r.Status
	}
	return true, nil
}

func (s *MemoryStore) Enqueue(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.now()
	s.outbox = append(s.outbox, &memOutboxRow{
		rec: usecase.OutboxRecord{
			ID:        s.nextID,
			Channel:   channel,
			Payload:   append([]byte(nil), payload...),
			CreatedAt: now,
		},
		nextAttempt: now,
	})
	return nil
}

func (s *MemoryStore) FetchPending(_ context.Context, limit int) ([]usecase.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []usecase.OutboxRecord
	for _, row := range s.outbox {
		if len(out) >= limit {
			break
		}
		if row.sent || row.nextAttempt.After(now) {
			continue
		}
		out = append(out, row.rec)
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row := s.row(id); row != nil {
		row.sent = true
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row := s.row(id); row != nil {
		row.rec.RetryCount++
		row.nextAttempt = nextAttempt
	}
	return nil
}

func (s *MemoryStore) row(id int64) *memOutboxRow {
	for _, row := range s.outbox {
		if row.rec.ID == id {
			return row
		}
	}
	return nil
}

func newestFirst(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

var (
	_ usecase.OrderRepo    = (*MemoryStore)(nil)
	_ usecase.OutboxRepo   = (*MemoryStore)(nil)
	_ usecase.OutboxReader = (*MemoryStore)(nil)
)
