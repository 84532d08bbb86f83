package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"
)

type ctxKey struct{}

// WithActor stores actor in ctx.
func WithActor(ctx context.Context, actor db.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFrom returns the authenticated actor, if any.
func ActorFrom(ctx context.Context) (db.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(db.Actor)
	return a, ok
}

// Middleware rejects requests without a valid bearer token.
func (s *TokenService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeUnauthenticated(w, "missing bearer token")
			return
		}
		actor, err := s.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeUnauthenticated(w, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok || actor.Role != db.RoleAdmin {
			he := apperr.ToHTTPError(apperr.New(apperr.KindUnauthorized, "admin role required"))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(he.Code)
			json.NewEncoder(w).Encode(he)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthenticated(w http.ResponseWriter, msg string) {
	he := apperr.ErrUnauthenticated(msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.Code)
	json.NewEncoder(w).Encode(he)
}
