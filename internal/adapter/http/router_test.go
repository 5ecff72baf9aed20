package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aq2208/garden-checkout/internal/adapter/cache"
	"github.com/aq2208/garden-checkout/internal/adapter/catalog"
	"github.com/aq2208/garden-checkout/internal/adapter/gateway"
	"github.com/aq2208/garden-checkout/internal/adapter/http/middleware"
	"github.com/aq2208/garden-checkout/internal/adapter/repo"
	"github.com/aq2208/garden-checkout/internal/security"
	"github.com/aq2208/garden-checkout/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

var testJWT = security.JWTConfig{
	Secret:   "test-secret",
	Issuer:   "garden-checkout",
	Audience: "garden-staff",
	TTL:      time.Hour,
}

type testServer struct {
	engine *gin.Engine
	store  *repo.MemoryStore
	gw     *gateway.Sandbox
	logBuf *bytes.Buffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repo.NewMemoryStore()
	gw := gateway.NewSandbox()
	cat, err := catalog.NewStatic([]catalog.Item{
		{ID: "boston-fern", Name: "Boston Fern", Price: "29.99"},
		{ID: "japanese-maple", Name: "Japanese Maple", Price: "120.00"},
	})
	require.NoError(t, err)
	clients, err := security.NewRegistry([]security.Client{
		{ID: "store-staff", Secret: "staff-pw", Perms: []string{security.PermOrdersRead, security.PermOrdersWrite}, Enabled: true},
	})
	require.NoError(t, err)

	payments := usecase.NewPaymentOrchestrator(gw)
	orders := usecase.NewOrders(store, usecase.WithOutbox(store), usecase.WithRefunds(payments))
	cfg := usecase.DefaultCheckoutConfig()
	cfg.LockWait = 200 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PersistBackoff = time.Millisecond
	uc := usecase.NewCheckout(cat, orders, payments, cache.NewMemoryIdempotencyStore(time.Hour), nil, cfg)

	buf := &bytes.Buffer{}
	engine := NewRouter(Handlers{
		Checkout: NewCheckoutHandler(uc, 5*time.Second),
		Orders:   NewOrderHandler(orders, time.Second),
		Payments: NewPaymentHandler(payments, time.Second),
		Token:    NewTokenHandler(testJWT, clients),
		Authz:    middleware.NewAuthz(testJWT),
		Log:      slog.New(slog.NewJSONHandler(buf, nil)),
	})
	return &testServer{engine: engine, store: store, gw: gw, logBuf: buf}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func bearer(t *testing.T, perms ...string) map[string]string {
	t.Helper()
	tok, err := security.Issue(testJWT, security.Client{ID: "tester", Perms: perms}, time.Now())
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func checkoutBody(key, card string, qty int) map[string]any {
	return map[string]any{
		"idempotencyKey": key,
		"items": []map[string]any{
			{"productId": "boston-fern", "quantity": qty, "price": 0.01},
		},
		"customerInfo": map[string]any{
			"firstName": "Ana", "lastName": "Silva",
			"email": "Ana@Example.com", "phone": "555-0100",
		},
		"paymentMethod": map[string]any{
			"kind": "clover",
			"card": map[string]any{"number": card, "expMonth": 12, "expYear": 2030, "cvc": "123"},
		},
		"fulfillmentMethod": "pickup",
	}
}

func orderOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	o, ok := body["order"].(map[string]any)
	require.True(t, ok, "response has no order: %v", body)
	return o
}

func TestCheckoutApprovedUsesCatalogPrices(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-ok", gateway.CardApproved, 2), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])

	o := orderOf(t, body)
	totals := o["totals"].(map[string]any)
	assert.Equal(t, "59.98", totals["subtotal"])
	assert.Equal(t, "4.95", totals["tax"])
	assert.Equal(t, "0.00", totals["shipping"])
	assert.Equal(t, "64.93", totals["grandTotal"])
	assert.Equal(t, "confirmed", o["status"])
	assert.Equal(t, "succeeded", o["paymentStatus"])
	assert.Equal(t, "gateway", o["paymentKind"])
	assert.Equal(t, "ana@example.com", o["customerInfo"].(map[string]any)["email"])
	assert.NotEmpty(t, o["paymentId"])
	assert.Equal(t, "**** 4242", o["cardReference"])
}

func TestCheckoutReplayAndConflict(t *testing.T) {
	s := newTestServer(t)

	w, first := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-replay", gateway.CardApproved, 1), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, again := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-replay", gateway.CardApproved, 1), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first["orderId"], again["orderId"])

	orders, err := s.store.List(t.Context(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	w, conflict := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-replay", gateway.CardApproved, 3), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "idempotency_conflict", conflict["error"])
}

func TestCheckoutHeaderKeyWinsOverBody(t *testing.T) {
	s := newTestServer(t)

	body := checkoutBody("", gateway.CardApproved, 1)
	w, _ := s.do(t, http.MethodPost, "/v1/checkout", body, map[string]string{"Idempotency-Key": "hdr-key"})
	require.Equal(t, http.StatusOK, w.Code)

	_, err := s.store.GetByIdempotencyKey(t.Context(), "hdr-key")
	assert.NoError(t, err)
}

func TestCheckoutDeclineReturns402WithOrder(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-decline", gateway.CardDeclined, 1), nil)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "card_declined", body["failureReason"])

	o := orderOf(t, body)
	assert.Equal(t, "failed", o["paymentStatus"])
	assert.Equal(t, "pending", o["status"])
}

func TestCheckoutLostResponseIsProcessing(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-lost", gateway.CardLostResponse, 1), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, true, body["processing"])
	assert.Equal(t, "pending", orderOf(t, body)["paymentStatus"])
}

func TestCheckoutValidationErrors(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("", gateway.CardApproved, 1), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_idempotency_key", body["error"])

	bad := checkoutBody("key-unknown", gateway.CardApproved, 1)
	bad["items"] = []map[string]any{{"productId": "plastic-flamingo", "quantity": 1}}
	w, body = s.do(t, http.MethodPost, "/v1/checkout", bad, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unknown_product", body["error"])
	assert.Equal(t, "plastic-flamingo", body["productId"])

	noPhone := checkoutBody("key-phone", gateway.CardApproved, 1)
	noPhone["customerInfo"].(map[string]any)["phone"] = ""
	w, body = s.do(t, http.MethodPost, "/v1/checkout", noPhone, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_customer_field", body["error"])
	assert.Equal(t, "customerInfo.phone", body["field"])

	orders, err := s.store.List(t.Context(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckoutLogRedactsCard(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-log", gateway.CardApproved, 1), nil)
	require.Equal(t, http.StatusOK, w.Code)

	logged := s.logBuf.String()
	assert.Contains(t, logged, "http_request")
	assert.NotContains(t, logged, gateway.CardApproved)
	assert.Contains(t, logged, "***redacted***")
}

func TestOrderQueries(t *testing.T) {
	s := newTestServer(t)
	_, placed := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-q", gateway.CardApproved, 1), nil)
	id := placed["orderId"].(string)

	w, body := s.do(t, http.MethodGet, "/v1/orders/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, orderOf(t, body)["id"])

	w, body = s.do(t, http.MethodGet, "/v1/orders/"+id+"/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "confirmed", body["status"])

	w, body = s.do(t, http.MethodGet, "/v1/orders?email="+url.QueryEscape("ANA@example.com"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["orders"], 1)

	w, body = s.do(t, http.MethodGet, "/v1/orders/ORD-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestListAllRequiresStaff(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-l", gateway.CardApproved, 1), nil)

	w, _ := s.do(t, http.MethodGet, "/v1/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/v1/orders", nil, bearer(t, security.PermOrdersWrite))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := s.do(t, http.MethodGet, "/v1/orders?limit=5", nil, bearer(t, security.PermOrdersRead))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["orders"], 1)
}

func TestUpdateStatusWalksLifecycle(t *testing.T) {
	s := newTestServer(t)
	_, placed := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-s", gateway.CardApproved, 1), nil)
	id := placed["orderId"].(string)
	staff := bearer(t, security.PermOrdersWrite)

	w, _ := s.do(t, http.MethodPut, "/v1/orders/"+id+"/status", map[string]any{"status": "processing"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := s.do(t, http.MethodPut, "/v1/orders/"+id+"/status", map[string]any{"status": "processing"}, staff)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "processing", orderOf(t, body)["status"])

	w, body = s.do(t, http.MethodPut, "/v1/orders/"+id+"/status", map[string]any{"status": "delivered"}, staff)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_transition", body["error"])
	assert.Equal(t, "processing", body["from"])

	w, body = s.do(t, http.MethodPut, "/v1/orders/"+id+"/status", map[string]any{"status": "lost"}, staff)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_transition", body["error"])
}

func TestCancelRefundsCharge(t *testing.T) {
	s := newTestServer(t)
	_, placed := s.do(t, http.MethodPost, "/v1/checkout", checkoutBody("key-c", gateway.CardApproved, 1), nil)
	id := placed["orderId"].(string)
	chargeID := orderOf(t, placed)["paymentId"].(string)

	w, body := s.do(t, http.MethodPut, "/v1/orders/"+id+"/status", map[string]any{"status": "cancelled"}, bearer(t, security.PermOrdersWrite))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cancelled", orderOf(t, body)["status"])

	w, _ = s.do(t, http.MethodGet, "/v1/payments/"+chargeID, nil, bearer(t, security.PermOrdersRead))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.do(t, http.MethodGet, "/v1/payments/"+chargeID, nil, bearer(t, security.PermPaymentsAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["payment"].(map[string]any)["refunded"])
}

func TestIssueToken(t *testing.T) {
	s := newTestServer(t)

	post := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		return w
	}

	w := post(url.Values{"client_id": {"store-staff"}, "client_secret": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(url.Values{"client_id": {"store-staff"}, "client_secret": {"staff-pw"}, "scope": {"payments.admin"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(url.Values{"client_id": {"store-staff"}, "client_secret": {"staff-pw"}, "scope": {"orders.read"}})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Bearer", body["token_type"])

	clientID, perms, err := security.Verify(testJWT, body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "store-staff", clientID)
	assert.Contains(t, perms, security.PermOrdersRead)
	assert.NotContains(t, perms, security.PermOrdersWrite)
}
