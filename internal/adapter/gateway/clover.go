package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/aq2208/garden-checkout/internal/usecase"
)

type CloverConfig struct {
	BaseURL     string        `koanf:"base_url"`
	TokenURL    string        `koanf:"token_url"`
	APIKey      string        `koanf:"api_key"`
	AccessToken string        `koanf:"access_token"`
	MerchantID  string        `koanf:"merchant_id"`
	Timeout     time.Duration `koanf:"timeout"`
}

// Clover talks to the Clover ecommerce REST API.
type Clover struct {
	cfg    CloverConfig
	client *http.Client
}

func NewClover(cfg CloverConfig) *Clover {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Clover{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type cloverCard struct {
	Number   string `json:"number"`
	ExpMonth string `json:"exp_month"`
	ExpYear  string `json:"exp_year"`
	CVV      string `json:"cvv"`
	Name     string `json:"name,omitempty"`
}

type cloverChargeReq struct {
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Source       string            `json:"source"`
	Description  string            `json:"description,omitempty"`
	ReceiptEmail string            `json:"receipt_email,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type cloverCharge struct {
	ID          string            `json:"id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Paid        bool              `json:"paid"`
	Refunded    bool              `json:"refunded"`
	FailureCode string            `json:"failure_code"`
	FailureMsg  string            `json:"failure_message"`
	Metadata    map[string]string `json:"metadata"`
}

type cloverError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Charge  string `json:"charge"`
	} `json:"error"`
}

func (c *Clover) Tokenize(ctx context.Context, card domain.CardData) (string, error) {
	body := map[string]cloverCard{"card": {
		Number:   digits(card.Number),
		ExpMonth: fmt.Sprintf("%02d", card.ExpMonth),
		ExpYear:  strconv.Itoa(card.ExpYear),
		CVV:      card.CVC,
		Name:     card.CardholderName,
	}}
	headers := map[string]string{"apikey": c.cfg.APIKey}

	status, raw, err := c.do(ctx, http.MethodPost, c.cfg.TokenURL+"/v1/tokens", body, headers)
	if err != nil {
		return "", fmt.Errorf("%w: tokenize: %v", usecase.ErrGatewayUnavailable, err)
	}
	switch {
	case status >= 200 && status < 300:
		var out struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
			return "", fmt.Errorf("%w: tokenize: malformed response", usecase.ErrGatewayUnavailable)
		}
		return out.ID, nil
	case status == http.StatusBadRequest || status == http.StatusPaymentRequired:
		return "", &usecase.CardRejectedError{Reason: errorReason(raw, "card rejected")}
	default:
		return "", fmt.Errorf("%w: tokenize: status %d", usecase.ErrGatewayUnavailable, status)
	}
}

// Charge maps transport failures to ErrGatewayUnavailable only when the
// request provably never reached Clover. Everything else after dispatch is
// ErrOutcomeUnknown.
func (c *Clover) Charge(ctx context.Context, req usecase.ChargeRequest) (usecase.Charge, error) {
	body := cloverChargeReq{
		Amount:       req.AmountCents,
		Currency:     strings.ToLower(req.Currency),
		Source:       req.Token,
		Description:  req.Description,
		ReceiptEmail: req.ReceiptEmail,
		Metadata:     req.Metadata,
	}
	headers := c.authHeaders()
	if req.IdempotencyKey != "" {
		headers["idempotency-key"] = req.IdempotencyKey
	}

	status, raw, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/charges", body, headers)
	if err != nil {
		if notDispatched(err) {
			return usecase.Charge{}, fmt.Errorf("%w: charge: %v", usecase.ErrGatewayUnavailable, err)
		}
		return usecase.Charge{}, fmt.Errorf("%w: charge: %v", usecase.ErrOutcomeUnknown, err)
	}

	switch {
	case status >= 200 && status < 300:
		var ch cloverCharge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return usecase.Charge{}, fmt.Errorf("%w: charge: malformed response", usecase.ErrOutcomeUnknown)
		}
		return toCharge(ch), nil
	case status == http.StatusPaymentRequired || status == http.StatusBadRequest:
		var e cloverError
		_ = json.Unmarshal(raw, &e)
		return usecase.Charge{
			ID:            e.Error.Charge,
			Status:        usecase.ChargeFailed,
			FailureReason: errorReason(raw, "payment declined"),
			AmountCents:   req.AmountCents,
			Currency:      req.Currency,
		}, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		// rejected before processing
		return usecase.Charge{}, fmt.Errorf("%w: charge: status %d", usecase.ErrGatewayUnavailable, status)
	default:
		return usecase.Charge{}, fmt.Errorf("%w: charge: status %d", usecase.ErrOutcomeUnknown, status)
	}
}

func (c *Clover) Refund(ctx context.Context, req usecase.RefundRequest) error {
	body := map[string]any{"charge": req.ChargeID}
	if req.AmountCents > 0 {
		body["amount"] = req.AmountCents
	}
	headers := c.authHeaders()
	if req.IdempotencyKey != "" {
		headers["idempotency-key"] = req.IdempotencyKey
	}
	status, raw, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/refunds", body, headers)
	if err != nil {
		if notDispatched(err) {
			return fmt.Errorf("%w: refund: %v", usecase.ErrGatewayUnavailable, err)
		}
		return fmt.Errorf("%w: refund: %v", usecase.ErrOutcomeUnknown, err)
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: charge %s", usecase.ErrNotFound, req.ChargeID)
	case status == http.StatusBadRequest && errorCode(raw) == "charge_already_refunded":
		return fmt.Errorf("%w: charge %s", usecase.ErrAlreadyRefunded, req.ChargeID)
	default:
		return fmt.Errorf("%w: refund: status %d: %s", usecase.ErrGatewayUnavailable, status, errorReason(raw, "refund failed"))
	}
}

func (c *Clover) Retrieve(ctx context.Context, chargeID string) (usecase.Charge, error) {
	status, raw, err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/charges/"+chargeID, nil, c.authHeaders())
	if err != nil {
		return usecase.Charge{}, fmt.Errorf("%w: retrieve: %v", usecase.ErrGatewayUnavailable, err)
	}
	switch {
	case status >= 200 && status < 300:
		var ch cloverCharge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return usecase.Charge{}, fmt.Errorf("%w: retrieve: malformed response", usecase.ErrGatewayUnavailable)
		}
		return toCharge(ch), nil
	case status == http.StatusNotFound:
		return usecase.Charge{}, fmt.Errorf("%w: charge %s", usecase.ErrNotFound, chargeID)
	default:
		return usecase.Charge{}, fmt.Errorf("%w: retrieve: status %d", usecase.ErrGatewayUnavailable, status)
	}
}

func (c *Clover) authHeaders() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + c.cfg.AccessToken}
	if c.cfg.MerchantID != "" {
		h["x-clover-merchant-id"] = c.cfg.MerchantID
	}
	return h
}

func (c *Clover) do(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, &dispatchError{err}
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, nil, &dispatchError{err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// dispatchError marks failures that happened before anything was sent.
type dispatchError struct{ err error }

func (e *dispatchError) Error() string { return e.err.Error() }
func (e *dispatchError) Unwrap() error { return e.err }

func notDispatched(err error) bool {
	var de *dispatchError
	if errors.As(err, &de) {
		return true
	}
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		return true
	}
	var dns *net.DNSError
	return errors.As(err, &dns)
}

func toCharge(ch cloverCharge) usecase.Charge {
	out := usecase.Charge{
		ID:          ch.ID,
		AmountCents: ch.Amount,
		Currency:    ch.Currency,
		Refunded:    ch.Refunded,
		Metadata:    ch.Metadata,
	}
	switch strings.ToLower(ch.Status) {
	case "succeeded", "paid":
		out.Status = usecase.ChargeSucceeded
	case "failed", "declined":
		out.Status = usecase.ChargeFailed
		out.FailureReason = firstNonEmpty(ch.FailureMsg, ch.FailureCode, "payment declined")
	default:
		out.Status = usecase.ChargePending
		if ch.Paid {
			out.Status = usecase.ChargeSucceeded
		}
	}
	return out
}

func errorReason(raw []byte, fallback string) string {
	var e cloverError
	if json.Unmarshal(raw, &e) == nil {
		return firstNonEmpty(e.Error.Message, e.Error.Code, fallback)
	}
	return fallback
}

func errorCode(raw []byte) string {
	var e cloverError
	_ = json.Unmarshal(raw, &e)
	return e.Error.Code
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ usecase.PaymentGateway = (*Clover)(nil)
