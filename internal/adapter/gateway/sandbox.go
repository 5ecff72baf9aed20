package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/google/uuid"
)

// Sandbox test cards. Any other well-formed card is approved.
const (
	CardApproved          = "4242424242424242"
	CardDeclined          = "4000000000000002"
	CardInsufficientFunds = "4000000000009995"
	CardIncorrectCVC      = "4000000000000127"
	CardExpired           = "4000000000000069"
	// CardLostResponse is charged but the response never arrives.
	CardLostResponse = "4000000000000119"
	// CardPending settles asynchronously; Retrieve reports pending until Settle.
	CardPending = "4000000000000259"
)

// Sandbox is an in-process gateway with deterministic test cards.
type Sandbox struct {
	mu      sync.Mutex
	tokens  map[string]string // token -> card number
	charges map[string]*usecase.Charge
	byKey   map[string]string // idempotency key -> charge id
	refunds map[string]string // refund idempotency key -> charge id
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		tokens:  map[string]string{},
		charges: map[string]*usecase.Charge{},
		byKey:   map[string]string{},
		refunds: map[string]string{},
	}
}

func (s *Sandbox) Tokenize(ctx context.Context, card domain.CardData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", usecase.ErrGatewayUnavailable, err)
	}
	number := digits(card.Number)
	switch number {
	case CardIncorrectCVC:
		return "", &usecase.CardRejectedError{Reason: "incorrect_cvc"}
	case CardExpired:
		return "", &usecase.CardRejectedError{Reason: "expired_card"}
	}
	tok := "tok_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	s.tokens[tok] = number
	s.mu.Unlock()
	return tok, nil
}

func (s *Sandbox) Charge(ctx context.Context, req usecase.ChargeRequest) (usecase.Charge, error) {
	if err := ctx.Err(); err != nil {
		return usecase.Charge{}, fmt.Errorf("%w: %v", usecase.ErrGatewayUnavailable, err)
	}
	if req.AmountCents <= 0 {
		return usecase.Charge{Status: usecase.ChargeFailed, FailureReason: "invalid_amount"}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.IdempotencyKey != "" {
		if id, ok := s.byKey[req.IdempotencyKey]; ok {
			return cloneCharge(s.charges[id]), nil
		}
	}

	ch := &usecase.Charge{
		ID:          "ch_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:      usecase.ChargeSucceeded,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Metadata:    copyMeta(req.Metadata),
	}
	number := s.tokens[req.Token]
	switch number {
	case CardDeclined:
		ch.Status, ch.FailureReason = usecase.ChargeFailed, "card_declined"
	case CardInsufficientFunds:
		ch.Status, ch.FailureReason = usecase.ChargeFailed, "insufficient_funds"
	case CardPending:
		ch.Status = usecase.ChargePending
	}
	s.charges[ch.ID] = ch
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = ch.ID
	}
	if number == CardLostResponse {
		return usecase.Charge{}, fmt.Errorf("%w: sandbox dropped the response for %s", usecase.ErrOutcomeUnknown, ch.ID)
	}
	return cloneCharge(ch), nil
}

func (s *Sandbox) Refund(ctx context.Context, req usecase.RefundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.charges[req.ChargeID]
	if !ok {
		return fmt.Errorf("%w: charge %s", usecase.ErrNotFound, req.ChargeID)
	}
	if req.IdempotencyKey != "" && s.refunds[req.IdempotencyKey] == req.ChargeID {
		return nil
	}
	if ch.Refunded {
		return fmt.Errorf("%w: charge %s", usecase.ErrAlreadyRefunded, req.ChargeID)
	}
	if ch.Status != usecase.ChargeSucceeded {
		return fmt.Errorf("charge %s is %s and cannot be refunded", req.ChargeID, ch.Status)
	}
	if req.AmountCents < 0 || req.AmountCents > ch.AmountCents {
		return fmt.Errorf("refund of %d exceeds charge %s amount %d", req.AmountCents, req.ChargeID, ch.AmountCents)
	}
	ch.Refunded = true
	if req.IdempotencyKey != "" {
		s.refunds[req.IdempotencyKey] = req.ChargeID
	}
	return nil
}

func (s *Sandbox) Retrieve(ctx context.Context, chargeID string) (usecase.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.charges[chargeID]
	if !ok {
		return usecase.Charge{}, fmt.Errorf("%w: charge %s", usecase.ErrNotFound, chargeID)
	}
	return cloneCharge(ch), nil
}

// Settle resolves a pending sandbox charge, as the real processor would later.
func (s *Sandbox) Settle(chargeID string, succeeded bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.charges[chargeID]
	if !ok {
		return fmt.Errorf("%w: charge %s", usecase.ErrNotFound, chargeID)
	}
	if ch.Status != usecase.ChargePending {
		return fmt.Errorf("charge %s already %s", chargeID, ch.Status)
	}
	if succeeded {
		ch.Status = usecase.ChargeSucceeded
	} else {
		ch.Status, ch.FailureReason = usecase.ChargeFailed, reason
	}
	return nil
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cloneCharge(ch *usecase.Charge) usecase.Charge {
	out := *ch
	out.Metadata = copyMeta(ch.Metadata)
	return out
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ usecase.PaymentGateway = (*Sandbox)(nil)
