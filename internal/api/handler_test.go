package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	_ = util.InitLogger("test")
	os.Exit(m.Run())
}

type stubOrders struct {
	create func(userID uuid.UUID, ids []uuid.UUID) (*models.Order, error)
	get    func(userID, orderID uuid.UUID) (*models.Order, error)
}

func (s *stubOrders) CreateOrder(_ context.Context, userID uuid.UUID, ids []uuid.UUID) (*models.Order, error) {
	return s.create(userID, ids)
}

func (s *stubOrders) GetOrder(_ context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	return s.get(userID, orderID)
}

type stubCheckout struct {
	resp *service.CheckoutSessionResponse
	err  error
}

func (s *stubCheckout) CreateCheckoutSession(context.Context, uuid.UUID, uuid.UUID) (*service.CheckoutSessionResponse, error) {
	return s.resp, s.err
}

type stubWebhook struct {
	payload []byte
	header  string
	ack     *service.Ack
	err     error
}

func (s *stubWebhook) HandleNotification(_ context.Context, payload []byte, header string) (*service.Ack, error) {
	s.payload, s.header = payload, header
	return s.ack, s.err
}

type stubLibrary struct {
	tracks []models.Track
	err    error
}

func (s *stubLibrary) PurchasedTracks(context.Context, uuid.UUID) ([]models.Track, error) {
	return s.tracks, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type harness struct {
	orders   *stubOrders
	checkout *stubCheckout
	webhook  *stubWebhook
	library  *stubLibrary
	checks   map[string]Pinger
}

func newHarness() *harness {
	return &harness{
		orders:   &stubOrders{},
		checkout: &stubCheckout{},
		webhook:  &stubWebhook{},
		library:  &stubLibrary{},
		checks:   map[string]Pinger{"postgres": stubPinger{}, "redis": stubPinger{}},
	}
}

func (h *harness) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	router := gin.New()
	NewHandler(h.orders, h.checkout, h.webhook, h.library, h.checks).SetupRoutes(router)

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func asUser(id uuid.UUID) map[string]string {
	return map[string]string{UserIDHeader: id.String(), "Content-Type": "application/json"}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func sampleOrder(userID uuid.UUID) *models.Order {
	id := uuid.New()
	return &models.Order{
		ID:          id,
		UserID:      userID,
		Status:      models.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("30.00"),
		CreatedAt:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Items: []models.OrderItem{
			{ID: uuid.New(), OrderID: id, TrackID: uuid.New(), TrackTitle: "Night Drive", Price: decimal.RequireFromString("10.00")},
			{ID: uuid.New(), OrderID: id, TrackID: uuid.New(), TrackTitle: "Cold Summer", Price: decimal.RequireFromString("20.00")},
		},
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	h := newHarness()
	buyer := uuid.New()
	trackID := uuid.New()

	var gotUser uuid.UUID
	var gotIDs []uuid.UUID
	h.orders.create = func(userID uuid.UUID, ids []uuid.UUID) (*models.Order, error) {
		gotUser, gotIDs = userID, ids
		return sampleOrder(userID), nil
	}

	w := h.do(http.MethodPost, "/api/orders", []byte(fmt.Sprintf(`{"trackIds":["%s"]}`, trackID)), asUser(buyer))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, buyer, gotUser)
	assert.Equal(t, []uuid.UUID{trackID}, gotIDs)

	body := decode(t, w)
	assert.Equal(t, "PENDING", body["status"])
	assert.Contains(t, body, "totalAmount")
	assert.Contains(t, body, "createdAt")
	items := body["items"].([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, "Night Drive", items[0].(map[string]interface{})["trackTitle"])
}

func TestCreateOrderEndpointRequiresIdentity(t *testing.T) {
	h := newHarness()

	for _, headers := range []map[string]string{nil, {UserIDHeader: "someone"}} {
		w := h.do(http.MethodPost, "/api/orders", []byte(`{"trackIds":[]}`), headers)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestCreateOrderEndpointBadBody(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodPost, "/api/orders", []byte(`{"trackIds":["not-a-uuid"]}`), asUser(uuid.New()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid request", fmt.Errorf("wrapped: %w", service.ErrInvalidRequest), http.StatusBadRequest},
		{"not found", service.ErrNotFound, http.StatusNotFound},
		{"forbidden", service.ErrForbidden, http.StatusForbidden},
		{"invalid state", service.ErrInvalidState, http.StatusConflict},
		{"provider", service.ErrPaymentProvider, http.StatusBadGateway},
		{"infrastructure", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.orders.get = func(uuid.UUID, uuid.UUID) (*models.Order, error) { return nil, tt.err }

			w := h.do(http.MethodGet, "/api/orders/"+uuid.NewString(), nil, asUser(uuid.New()))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestGetOrderEndpointInvalidID(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodGet, "/api/orders/42", nil, asUser(uuid.New()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutEndpoint(t *testing.T) {
	h := newHarness()
	h.checkout.resp = &service.CheckoutSessionResponse{URL: "https://checkout.test/cs_1"}

	w := h.do(http.MethodPost, "/api/payment/checkout/"+uuid.NewString(), nil, asUser(uuid.New()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://checkout.test/cs_1", decode(t, w)["url"])
}

func TestCheckoutEndpointSurfacesProviderDetail(t *testing.T) {
	h := newHarness()
	h.checkout.err = fmt.Errorf("%w: %w", service.ErrPaymentProvider,
		&payment.ProviderError{Code: "api_key_expired", Message: "Expired API Key provided"})

	w := h.do(http.MethodPost, "/api/payment/checkout/"+uuid.NewString(), nil, asUser(uuid.New()))
	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, "api_key_expired", body["providerCode"])
	assert.Equal(t, "Expired API Key provided", body["details"])
}

func TestWebhookEndpointPassesRawBody(t *testing.T) {
	h := newHarness()
	h.webhook.ack = &service.Ack{EventID: "evt_1", Outcome: service.OutcomeCompleted}
	payload := []byte(`{"id":"evt_1",  "type":"checkout.session.completed"}`)

	w := h.do(http.MethodPost, "/api/payment/webhook", payload, map[string]string{SignatureHeader: "t=1,v1=abc"})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, payload, h.webhook.payload)
	assert.Equal(t, "t=1,v1=abc", h.webhook.header)
	assert.Equal(t, "received", decode(t, w)["status"])
}

func TestWebhookEndpointStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid signature", service.ErrInvalidSignature, http.StatusBadRequest},
		{"malformed", service.ErrMalformedEvent, http.StatusBadRequest},
		{"unknown order acknowledged", service.ErrNotFound, http.StatusOK},
		{"store down", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.webhook.err = tt.err

			w := h.do(http.MethodPost, "/api/payment/webhook", []byte(`{}`), nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestLibraryEndpoint(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodGet, "/api/library", nil, asUser(uuid.New()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	h.library.tracks = []models.Track{{ID: uuid.New(), Title: "Night Drive", Price: decimal.RequireFromString("10.00")}}
	w = h.do(http.MethodGet, "/api/library", nil, asUser(uuid.New()))
	require.Equal(t, http.StatusOK, w.Code)

	var tracks []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tracks))
	require.Len(t, tracks, 1)
	assert.Equal(t, "Night Drive", tracks[0]["title"])
}

func TestReadiness(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	h.checks["redis"] = stubPinger{err: errors.New("dial tcp: connection refused")}
	w = h.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w)["failed"], "redis")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness()

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", nil, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/metrics", nil, nil).Code)
}
