package usecase

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/shopspring/decimal"
)

type memRepo struct {
	mu       sync.Mutex
	byID     map[string]*domain.Order
	byKey    map[string]string
	failNext int // Create calls to fail before succeeding
	creates  int
}

func newMemRepo() *memRepo {
	return &memRepo{byID: map[string]*domain.Order{}, byKey: map[string]string{}}
}

func (r *memRepo) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.failNext > 0 {
		r.failNext--
		return errors.New("connection reset")
	}
	if o.IdempotencyKey != "" {
		if _, ok := r.byKey[o.IdempotencyKey]; ok {
			return ErrDuplicateKey
		}
		r.byKey[o.IdempotencyKey] = o.ID
	}
	r.byID[o.ID] = o.Clone()
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (r *memRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	r.mu.Lock()
	id, ok := r.byKey[key]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *memRepo) ListByEmail(_ context.Context, email string) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.byID {
		if o.Customer.Email == email {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) List(_ context.Context, limit, offset int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.byID {
		out = append(out, o.Clone())
	}
	return out, nil
}

func (r *memRepo) UpdateStatusIf(_ context.Context, id string, from, to domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (r *memRepo) ResolvePayment(_ context.Context, id string, res PaymentResolution) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok || o.PaymentStatus != domain.PaymentPending {
		return false, nil
	}
	o.PaymentID = res.PaymentID
	o.PaymentStatus = res.PaymentStatus
	o.PaymentFailureReason = res.FailureReason
	if res.Status != "" {
		o.Status = res.Status
	}
	return true, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type memIdem struct {
	mu     sync.Mutex
	seq    int
	locks  map[string]string
	values map[string]string
}

func newMemIdem() *memIdem {
	return &memIdem{locks: map[string]string{}, values: map[string]string{}}
}

func (s *memIdem) TryLock(_ context.Context, scope, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[scope+":"+key]; held {
		return "", false, nil
	}
	s.seq++
	token := "tok-" + strconv.Itoa(s.seq)
	s.locks[scope+":"+key] = token
	return token, true, nil
}

func (s *memIdem) Release(_ context.Context, scope, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[scope+":"+key] == token {
		delete(s.locks, scope+":"+key)
	}
	return nil
}

func (s *memIdem) Remember(_ context.Context, scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[scope+":"+key] = value
	return nil
}

func (s *memIdem) Recall(_ context.Context, scope, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[scope+":"+key]
	return v, ok, nil
}

func (s *memIdem) locked(scope, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.locks[scope+":"+key]
	return held
}

type fakeCatalog map[string]Product

func (c fakeCatalog) PriceByProductID(_ context.Context, id string) (Product, error) {
	p, ok := c[id]
	if !ok {
		return Product{}, &UnknownProductError{ProductID: id}
	}
	return p, nil
}

func gardenCatalog() fakeCatalog {
	return fakeCatalog{
		"fern":   {ID: "fern", Name: "Boston Fern", Price: decimal.RequireFromString("29.99")},
		"maple":  {ID: "maple", Name: "Japanese Maple", Price: decimal.RequireFromString("120.00")},
		"gloves": {ID: "gloves", Name: "Garden Gloves", Price: decimal.RequireFromString("12.50")},
	}
}

type fakeGateway struct {
	mu        sync.Mutex
	tokenizes atomic.Int32
	charges   atomic.Int32
	refunds   atomic.Int32

	tokenizeErr error
	chargeErr   error
	chargeResp  Charge
	refundErr   error
	// chargeGate, when set, blocks Charge until it is closed.
	chargeGate chan struct{}
	// chargeStarted is signalled when Charge is entered.
	chargeStarted chan struct{}
	// refundGate, when set, blocks Refund until it is closed.
	refundGate chan struct{}

	lastCharge ChargeRequest
	lastRefund RefundRequest
	stored     map[string]Charge
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		chargeResp: Charge{ID: "ch_1", Status: ChargeSucceeded},
		stored:     map[string]Charge{},
	}
}

func (g *fakeGateway) Tokenize(ctx context.Context, card domain.CardData) (string, error) {
	g.tokenizes.Add(1)
	if g.tokenizeErr != nil {
		return "", g.tokenizeErr
	}
	return "tok_" + card.Last4(), nil
}

func (g *fakeGateway) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	g.charges.Add(1)
	if g.chargeStarted != nil {
		g.chargeStarted <- struct{}{}
	}
	if g.chargeGate != nil {
		<-g.chargeGate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastCharge = req
	if g.chargeErr != nil {
		return Charge{}, g.chargeErr
	}
	ch := g.chargeResp
	ch.AmountCents = req.AmountCents
	ch.Currency = req.Currency
	ch.Metadata = req.Metadata
	if ch.ID != "" {
		g.stored[ch.ID] = ch
	}
	return ch, nil
}

func (g *fakeGateway) Refund(_ context.Context, req RefundRequest) error {
	g.refunds.Add(1)
	if g.refundGate != nil {
		<-g.refundGate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastRefund = req
	if g.refundErr != nil {
		return g.refundErr
	}
	if ch, ok := g.stored[req.ChargeID]; ok {
		ch.Refunded = true
		g.stored[req.ChargeID] = ch
	}
	return nil
}

func (g *fakeGateway) Retrieve(_ context.Context, chargeID string) (Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.stored[chargeID]
	if !ok {
		return Charge{}, ErrNotFound
	}
	return ch, nil
}

func (g *fakeGateway) put(ch Charge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stored[ch.ID] = ch
}

type memOutbox struct {
	mu   sync.Mutex
	sent []string
}

func (o *memOutbox) Enqueue(_ context.Context, channel string, _ []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, channel)
	return nil
}

func (o *memOutbox) channels() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent...)
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingMetrics) CheckoutOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

func (m *countingMetrics) GatewayCall(string, string, time.Duration) {}
