package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"drivehub/internal/auth"
	"drivehub/internal/db"
	"drivehub/internal/entities"
	"drivehub/internal/ledger"
	"drivehub/internal/repository"
	"drivehub/internal/service"
	"drivehub/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	stripeSecret  = "whsec_test"
	callbackToken = "mm-callback-token"
)

type countingPayments struct {
	mu sync.Mutex
	n  int
}

func (p *countingPayments) InitiatePayment(ctx context.Context, r *db.Reservation) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return fmt.Sprintf("pi_test_%d", p.n), nil
}

type testServer struct {
	handler http.Handler
	tokens  *auth.TokenService
	repo    *repository.MemoryReservationRepository
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	logger := zap.NewNop()
	now := func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }

	repo := repository.NewMemoryReservationRepository()
	locks := ledger.NewKeyedMutex()
	avail := ledger.New(repository.NewMemoryWindowRepository(), locks, ledger.Options{Now: now}, logger)
	payments := &countingPayments{}
	machine := service.NewStateMachine(repo, avail, payments, nil, locks, service.StateMachineConfig{MaxPaymentRetries: 3, Now: now}, logger)
	bookings := service.NewBookingService(
		repository.NewMemoryVehicleRepository(db.Vehicle{ID: "veh-1", OwnerID: "owner-1", DailyRate: 35000, DepositAmount: 50000}),
		service.Pricing{
			Currency: "XAF",
			Rates:    service.FeeRates{ServiceFeeBps: 1000, InsuranceFeeBps: 500},
			Catalog:  service.OptionCatalog{"child_seat": 5000},
		},
		avail, machine, repo, payments, auth.RolePermissions{}, now, logger)
	recon := service.NewReconciler(repo, machine, service.NewAlertService(nil, logger), logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(callbackToken), bcrypt.MinCost)
	require.NoError(t, err)
	tokens := auth.NewTokenService("jwt-test-secret", time.Hour)

	router := NewRouter(RouterDeps{
		Bookings:           bookings,
		Tokens:             tokens,
		Queue:              &worker.InlineQueue{Handler: worker.NewPaymentEventHandler(recon, time.Minute, logger)},
		StripeSecret:       stripeSecret,
		MobileMoneyHash:    string(hash),
		RateLimitPerMinute: rateLimit,
		Logger:             logger,
	})
	return &testServer{handler: Wrap(router, nil, logger), tokens: tokens, repo: repo}
}

func (s *testServer) token(t *testing.T, id string, role db.Role) string {
	t.Helper()
	tok, err := s.tokens.Issue(db.Actor{ID: id, Role: role})
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) create(t *testing.T, token, start, end string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, "/api/reservations", token, entities.CreateReservationRequest{
		VehicleID: "veh-1", StartDate: start, EndDate: end, Options: []string{"child_seat"},
	})
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, 0)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuoteEndpoint(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/api/quote", "", entities.QuoteRequest{
		VehicleID: "veh-1", StartDate: "2024-03-10", EndDate: "2024-03-13", Options: []string{"child_seat"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q := decodeBody[entities.QuoteResponse](t, rec)
	assert.Equal(t, 3, q.DayCount)
	assert.Equal(t, int64(105000), q.BasePrice)
	assert.Equal(t, int64(15000), q.OptionsPrice)
	assert.Equal(t, int64(12000), q.ServiceFee)
	assert.Equal(t, int64(6000), q.InsuranceFee)
	assert.Equal(t, int64(138000), q.Total)

	rec = s.do(t, http.MethodPost, "/api/quote", "", entities.QuoteRequest{VehicleID: "veh-1", StartDate: "2024-03-10", EndDate: "2024-03-10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/quote", "", entities.QuoteRequest{VehicleID: "veh-1", StartDate: "10/03/2024", EndDate: "2024-03-13"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "StartDate")

	rec = s.do(t, http.MethodPost, "/api/quote", "", entities.QuoteRequest{VehicleID: "veh-9", StartDate: "2024-03-10", EndDate: "2024-03-13"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateReservationEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	renter := s.token(t, "renter-1", db.RoleRenter)

	rec := s.create(t, "", "2024-03-10", "2024-03-13")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.create(t, renter, "2024-03-10", "2024-03-13")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[entities.ReservationResponse](t, rec)
	assert.Equal(t, db.StatusPendingPayment, res.Status)
	assert.Equal(t, "renter-1", res.RenterID)
	assert.Equal(t, "2024-03-10", res.StartDate)
	assert.Equal(t, int64(138000), res.Price.Total)

	rec = s.create(t, s.token(t, "renter-2", db.RoleRenter), "2024-03-12", "2024-03-14")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeBody[map[string]string](t, rec)["error"])

	rec = s.create(t, renter, "2024-03-13", "2024-03-15")
	assert.Equal(t, http.StatusCreated, rec.Code, "back-to-back bookings are allowed")

	rec = s.do(t, http.MethodPost, "/api/reservations", renter, entities.CreateReservationRequest{
		VehicleID: "veh-1", StartDate: "2024-03-20", EndDate: "2024-03-22", PaymentMethod: "cash",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	renter := s.token(t, "renter-1", db.RoleRenter)
	res := decodeBody[entities.ReservationResponse](t, s.create(t, renter, "2024-03-10", "2024-03-13"))
	path := "/api/reservations/" + res.ID + "/transition"

	rec := s.do(t, http.MethodPost, path, renter, entities.TransitionRequest{Event: "start"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[map[string]string](t, rec)["error"])

	rec = s.do(t, http.MethodPost, path, renter, entities.TransitionRequest{Event: "payment_confirmed", PaymentReference: res.PaymentReference, Amount: res.Price.Total})
	assert.Equal(t, http.StatusForbidden, rec.Code, "renters cannot confirm their own payment")

	rec = s.do(t, http.MethodPost, path, s.token(t, "stranger", db.RoleRenter), entities.TransitionRequest{Event: "cancel", Reason: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/reservations/"+res.ID, s.token(t, "stranger", db.RoleRenter), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/reservations/"+res.ID, s.token(t, "owner-1", db.RoleOwner), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, path, s.token(t, "admin-1", db.RoleAdmin), entities.TransitionRequest{Event: "payment_confirmed", PaymentReference: res.PaymentReference, Amount: res.Price.Total})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, db.StatusConfirmed, decodeBody[entities.ReservationResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, path, renter, entities.TransitionRequest{Event: "cancel", Reason: "plans changed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, db.StatusCancelled, decodeBody[entities.ReservationResponse](t, rec).Status)

	rec = s.create(t, renter, "2024-03-10", "2024-03-13")
	assert.Equal(t, http.StatusCreated, rec.Code, "cancel freed the dates")
}

func signedStripeEvent(t *testing.T, eventType, piID string, amount int64) (payload []byte, header string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + piID,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{"id": piID, "object": "payment_intent", "amount_received": amount},
		},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: stripeSecret, Timestamp: time.Now()})
	return payload, signed.Header
}

func TestStripeWebhookConfirmsReservation(t *testing.T) {
	s := newTestServer(t, 0)
	res := decodeBody[entities.ReservationResponse](t, s.create(t, s.token(t, "renter-1", db.RoleRenter), "2024-03-10", "2024-03-13"))

	payload, header := signedStripeEvent(t, "payment_intent.succeeded", res.PaymentReference, res.Price.Total)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", header)
		rec = httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "delivery %d", i+1)
	}

	stored, err := s.repo.GetByID(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusConfirmed, stored.Status)
}

func TestMobileMoneyWebhook(t *testing.T) {
	s := newTestServer(t, 0)
	body := entities.MobileMoneyCallback{TransactionID: "mm-unknown", Status: "SUCCESSFUL", Amount: 1000}

	send := func(token string, body any) int {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook/mobile-money", &buf)
		if token != "" {
			req.Header.Set("X-Callback-Token", token)
		}
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send("", body))
	assert.Equal(t, http.StatusUnauthorized, send("guess", body))
	assert.Equal(t, http.StatusOK, send(callbackToken, body), "unknown references are acknowledged and rechecked later")
	assert.Equal(t, http.StatusBadRequest, send(callbackToken, entities.MobileMoneyCallback{TransactionID: "mm-1", Status: "MAYBE"}))
}

func TestAdminListRequiresAdmin(t *testing.T) {
	s := newTestServer(t, 0)
	s.create(t, s.token(t, "renter-1", db.RoleRenter), "2024-03-10", "2024-03-13")

	rec := s.do(t, http.MethodGet, "/admin/vehicles/veh-1/reservations", s.token(t, "owner-1", db.RoleOwner), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/vehicles/veh-1/reservations", s.token(t, "admin-1", db.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[entities.ReservationsList](t, rec)
	assert.Equal(t, 1, list.Total)
}

func TestQuoteIsRateLimited(t *testing.T) {
	s := newTestServer(t, 2)
	body := entities.QuoteRequest{VehicleID: "veh-1", StartDate: "2024-03-10", EndDate: "2024-03-13"}

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/quote", "", body).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/quote", "", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, "/api/quote", "", body).Code)
}
