package auth

import (
	"errors"
	"fmt"
	"time"

	"drivehub/internal/db"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the caller. Sub is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// Issue signs an HS256 token for actor.
func (s *TokenService) Issue(actor db.Actor) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("JWT secret not set")
	}
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse validates a token and returns its actor.
func (s *TokenService) Parse(raw string) (db.Actor, error) {
	if len(s.secret) == 0 {
		return db.Actor{}, errors.New("JWT secret not set")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return db.Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	role := db.Role(claims.Role)
	switch role {
	case db.RoleRenter, db.RoleOwner, db.RoleAdmin:
	default:
		return db.Actor{}, fmt.Errorf("invalid token: unknown role %q", claims.Role)
	}
	if claims.Subject == "" {
		return db.Actor{}, errors.New("invalid token: missing subject")
	}
	return db.Actor{ID: claims.Subject, Role: role}, nil
}
