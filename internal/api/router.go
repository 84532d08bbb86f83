package api

import (
	"net/http"

	"drivehub/internal/auth"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Bookings           Bookings
	Tokens             *auth.TokenService
	Queue              EventQueue
	StripeSecret       string
	MobileMoneyHash    string
	RateLimitPerMinute int
	TrustProxy         bool
	Logger             *zap.Logger
}

// NewRouter wires every endpoint. Middleware is not applied; see Wrap.
func NewRouter(d RouterDeps) *mux.Router {
	booking := NewBookingHandler(d.Bookings, d.Logger)
	admin := NewAdminHandler(d.Bookings, d.Logger)
	stripeHook := NewStripeWebhookHandler(d.StripeSecret, d.Queue, d.Logger)
	mobileHook := NewMobileMoneyWebhookHandler(d.MobileMoneyHash, d.Queue, d.Logger)
	limiter := NewIPRateLimiter(d.RateLimitPerMinute, d.TrustProxy, d.Logger)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	// Public endpoints
	r.Handle("/api/quote", limiter.Middleware(http.HandlerFunc(booking.Quote))).Methods(http.MethodPost)
	r.HandleFunc("/api/payments/webhook", stripeHook.HandleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/payments/webhook/mobile-money", mobileHook.HandleWebhook).Methods(http.MethodPost)

	// Authenticated endpoints
	r.Handle("/api/reservations", d.Tokens.Middleware(limiter.Middleware(http.HandlerFunc(booking.CreateReservation)))).Methods(http.MethodPost)
	res := r.PathPrefix("/api/reservations").Subrouter()
	res.Use(d.Tokens.Middleware)
	res.HandleFunc("/{id}", booking.GetReservation).Methods(http.MethodGet)
	res.HandleFunc("/{id}/transition", booking.Transition).Methods(http.MethodPost)

	// Admin endpoints (protected)
	adm := r.PathPrefix("/admin").Subrouter()
	adm.Use(d.Tokens.Middleware, auth.RequireAdmin)
	adm.HandleFunc("/vehicles/{id}/reservations", admin.ListVehicleReservations).Methods(http.MethodGet)

	return r
}

// Wrap adds CORS, access logging and panic recovery.
func Wrap(h http.Handler, allowedOrigins []string, logger *zap.Logger) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	h = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(h)
	h = handlers.CombinedLoggingHandler(zap.NewStdLog(logger).Writer(), h)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(logger)), handlers.PrintRecoveryStack(false))(h)
}
