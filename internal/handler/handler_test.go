package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floracart/checkout-server/internal/domain/catalog"
	"github.com/floracart/checkout-server/internal/domain/checkout"
	"github.com/floracart/checkout-server/internal/domain/fulfillment"
	"github.com/floracart/checkout-server/internal/domain/merchant"
	"github.com/floracart/checkout-server/internal/domain/order"
	"github.com/floracart/checkout-server/internal/domain/payment"
	"github.com/floracart/checkout-server/internal/domain/pricing"
	"github.com/floracart/checkout-server/internal/idempotency"
)

const (
	testHandlerID  = "test.pay"
	testAdminKey   = "supersecret"
	sessionsPath   = "/checkout-sessions"
	createBodyJSON = `{
		"line_items": [{"item": {"id": "bouquet_roses"}, "quantity": 1}],
		"payment": {
			"instruments": [{"id": "inst_1", "handler_id": "test.pay"}],
			"selected_instrument_id": "inst_1"
		},
		"fulfillment_address": {
			"name": "Ada Lovelace",
			"line1": "12 Garden Way",
			"city": "Portland",
			"region": "OR",
			"postal_code": "97201",
			"country": "US"
		}
	}`
)

type acceptAllVerifier struct{ err error }

func (v acceptAllVerifier) Verify(context.Context, payment.Instrument, payment.Proof, payment.Expectation) error {
	return v.err
}

type nopSink struct{}

func (nopSink) Publish(context.Context, order.Event) error { return nil }

type testServer struct {
	mux      *http.ServeMux
	verifier *acceptAllVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	items := []catalog.Item{
		{ID: "bouquet_roses", Title: "Dozen Red Roses", UnitPrice: 3500, Currency: "USD"},
		{ID: "vase_glass", Title: "Glass Vase", UnitPrice: 2200, Currency: "USD"},
	}
	rules := []pricing.Rule{
		{Code: "10OFF", Kind: pricing.KindPercent, Value: decimal.NewFromInt(10), Title: "10% off"},
	}
	cfg := merchant.Config{
		Name:     "Test Florist",
		Currency: "USD",
		PaymentHandlers: []payment.Handler{
			{ID: testHandlerID, Name: "Test Pay"},
		},
		RequireFulfillment: true,
		SessionTTL:         30 * time.Minute,
	}

	verifier := &acceptAllVerifier{}
	negotiator := payment.NewNegotiator()
	negotiator.Register(testHandlerID, verifier)

	source := catalog.NewStaticSource(items)
	dispatcher := order.NewDispatcher(order.NewMemoryRepository(), nopSink{})
	orchestrator := checkout.NewOrchestrator(
		checkout.NewMemoryStore(),
		idempotency.NewMemoryLedger(time.Hour),
		pricing.NewEngine(pricing.NewStaticRules(rules)),
		source,
		negotiator,
		fulfillment.NewResolver(fulfillment.NewStaticSource(fulfillment.DefaultOptions())),
		dispatcher,
	)

	mux := http.NewServeMux()
	NewHandler(cfg, orchestrator, dispatcher, source, testAdminKey).Register(mux)
	return &testServer{mux: mux, verifier: verifier}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// createSession posts a full create request and returns the session document.
func (ts *testServer) createSession(t *testing.T) map[string]any {
	t.Helper()
	rec := ts.do(t, http.MethodPost, sessionsPath, createBodyJSON, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeSession(t, rec)
}

// readySession drives a freshly created session to ready_for_complete.
func (ts *testServer) readySession(t *testing.T) map[string]any {
	t.Helper()
	s := ts.createSession(t)
	id := s["id"].(string)

	rec := ts.do(t, http.MethodPut, sessionsPath+"/"+id,
		`{"fulfillment_option_id": "shipping_standard"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeSession(t, rec)
	require.Equal(t, "ready_for_complete", got["status"])
	return got
}

func TestListProducts(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var items []catalog.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "bouquet_roses", items[0].ID)
}

func TestCreateSession(t *testing.T) {
	t.Run("prices the request and exposes the version as ETag", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, sessionsPath, createBodyJSON, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, `"1"`, rec.Header().Get("ETag"))
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		s := decodeSession(t, rec)
		assert.Equal(t, "incomplete", s["status"])
		assert.Equal(t, "USD", s["currency"])
		assert.NotEmpty(t, s["id"])
	})

	t.Run("unknown item", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, sessionsPath,
			`{"line_items": [{"item": {"id": "no_such_item"}, "quantity": 1}]}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, sessionsPath, `{"line_items": [`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsupported currency", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, sessionsPath, `{"currency": "EUR"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetSession(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t)
	id := s["id"].(string)

	rec := ts.do(t, http.MethodGet, sessionsPath+"/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeSession(t, rec)["id"])

	rec = ts.do(t, http.MethodGet, sessionsPath+"/00000000-0000-0000-0000-000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSession(t *testing.T) {
	t.Run("applies a discount code", func(t *testing.T) {
		ts := newTestServer(t)
		s := ts.createSession(t)
		id := s["id"].(string)

		rec := ts.do(t, http.MethodPut, sessionsPath+"/"+id,
			`{"discounts": {"codes": ["10OFF"]}}`, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, `"2"`, rec.Header().Get("ETag"))

		got := decodeSession(t, rec)
		discounts := got["discounts"].(map[string]any)
		require.Len(t, discounts["applied"], 1)
	})

	t.Run("stale If-Match conflicts", func(t *testing.T) {
		ts := newTestServer(t)
		s := ts.createSession(t)
		id := s["id"].(string)

		rec := ts.do(t, http.MethodPut, sessionsPath+"/"+id,
			`{"buyer": {"email": "ada@example.com"}}`,
			map[string]string{"If-Match": `"42"`})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("matching If-Match succeeds", func(t *testing.T) {
		ts := newTestServer(t)
		s := ts.createSession(t)
		id := s["id"].(string)

		rec := ts.do(t, http.MethodPut, sessionsPath+"/"+id,
			`{"buyer": {"email": "ada@example.com"}}`,
			map[string]string{"If-Match": `"1"`})
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("unknown shipping option", func(t *testing.T) {
		ts := newTestServer(t)
		s := ts.createSession(t)
		id := s["id"].(string)

		rec := ts.do(t, http.MethodPut, sessionsPath+"/"+id,
			`{"fulfillment_option_id": "shipping_teleport"}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestCompleteSession(t *testing.T) {
	t.Run("full checkout flow through to a shipped order", func(t *testing.T) {
		ts := newTestServer(t)
		s := ts.readySession(t)
		id := s["id"].(string)

		rec := ts.do(t, http.MethodPost, sessionsPath+"/"+id+"/complete",
			`{"payment": {"instrument_id": "inst_1", "data": "proof"}}`, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		got := decodeSession(t, rec)
		require.Equal(t, "completed", got["status"])
		orderID := got["order_id"].(string)
		require.NotEmpty(t, orderID)

		rec = ts.do(t, http.MethodGet, "/orders/"+orderID, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "placed", decodeSession(t, rec)["status"])

		rec = ts.do(t, http.MethodPost, "/orders/"+orderID+"/ship", "",
			map[string]string{"X-Admin-Key": testAdminKey})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "shipped", decodeSession(t, rec)["status"])
	})

	t.Run("incomplete session conflicts", func(t *testing.T) {
		ts := newTestServer(t)
		s := ts.createSession(t)
		id := s["id"].(string)

		rec := ts.do(t, http.MethodPost, sessionsPath+"/"+id+"/complete",
			`{"payment": {"data": "proof"}}`, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rejected payment maps to 402", func(t *testing.T) {
		ts := newTestServer(t)
		ts.verifier.err = context.DeadlineExceeded
		s := ts.readySession(t)
		id := s["id"].(string)

		rec := ts.do(t, http.MethodPost, sessionsPath+"/"+id+"/complete",
			`{"payment": {"data": "proof"}}`, nil)
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	})

	t.Run("idempotent replay returns the same session", func(t *testing.T) {
		ts := newTestServer(t)
		s := ts.readySession(t)
		id := s["id"].(string)
		headers := map[string]string{"Idempotency-Key": "complete-1"}
		body := `{"payment": {"data": "proof"}}`

		first := ts.do(t, http.MethodPost, sessionsPath+"/"+id+"/complete", body, headers)
		require.Equal(t, http.StatusOK, first.Code, first.Body.String())
		second := ts.do(t, http.MethodPost, sessionsPath+"/"+id+"/complete", body, headers)
		require.Equal(t, http.StatusOK, second.Code, second.Body.String())

		assert.Equal(t, decodeSession(t, first)["order_id"], decodeSession(t, second)["order_id"])
	})

	t.Run("idempotency key reuse with a different body conflicts", func(t *testing.T) {
		ts := newTestServer(t)
		s := ts.readySession(t)
		id := s["id"].(string)
		headers := map[string]string{"Idempotency-Key": "complete-2"}

		first := ts.do(t, http.MethodPost, sessionsPath+"/"+id+"/complete",
			`{"payment": {"data": "proof"}}`, headers)
		require.Equal(t, http.StatusOK, first.Code)

		second := ts.do(t, http.MethodPost, sessionsPath+"/"+id+"/complete",
			`{"payment": {"data": "another-proof"}}`, headers)
		assert.Equal(t, http.StatusConflict, second.Code)
	})
}

func TestCancelSession(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t)
	id := s["id"].(string)

	rec := ts.do(t, http.MethodPost, sessionsPath+"/"+id+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "canceled", decodeSession(t, rec)["status"])

	// Canceling again succeeds without effect.
	rec = ts.do(t, http.MethodPost, sessionsPath+"/"+id+"/cancel", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	t.Run("missing or wrong key", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, "/orders/ord_1/ship", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = ts.do(t, http.MethodPost, "/orders/ord_1/ship", "",
			map[string]string{"X-Admin-Key": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("disabled without a configured secret", func(t *testing.T) {
		mux := http.NewServeMux()
		NewHandler(merchant.Config{}, nil, nil, nil, "").Register(mux)

		req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/ship", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestVersionHintParsing(t *testing.T) {
	for _, tc := range []struct {
		header string
		want   int64
	}{
		{"", 0},
		{`"3"`, 3},
		{"7", 7},
		{`"abc"`, 0},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("If-Match", tc.header)
		}
		assert.Equal(t, tc.want, versionHint(req), "header %q", tc.header)
	}
}
