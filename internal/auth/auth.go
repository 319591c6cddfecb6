// Package auth issues and verifies principal tokens and carries the
// authenticated principal through request contexts.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/models"
)

// Principal is the authenticated identity behind a request.
type Principal struct {
	ID   string      `json:"id"`
	Role models.Role `json:"role"`
}

// Claims is the JWT payload. The subject carries the principal id.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies principal tokens
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a token service using an HMAC secret
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue generates a signed JWT for p
func (s *TokenService) Issue(p Principal) (string, error) {
	if p.ID == "" || !p.Role.Valid() {
		return "", apperr.Validation("principal needs an id and a valid role")
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// Parse verifies tokenString and returns the principal it was issued for
func (s *TokenService) Parse(tokenString string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, apperr.Wrap(apperr.KindUnauthenticated, "token expired", err)
		}
		return Principal{}, apperr.Wrap(apperr.KindUnauthenticated, "invalid token", err)
	}
	if !token.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return Principal{}, apperr.New(apperr.KindUnauthenticated, "invalid token claims")
	}
	return Principal{ID: claims.Subject, Role: claims.Role}, nil
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// PrincipalSource yields the principal on whose behalf an operation runs.
type PrincipalSource interface {
	CurrentPrincipal(ctx context.Context) (Principal, error)
}

// ContextSource reads the principal placed in the context by the HTTP
// middleware.
type ContextSource struct{}

// CurrentPrincipal returns the principal stored by WithPrincipal.
func (ContextSource) CurrentPrincipal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Principal{}, apperr.New(apperr.KindUnauthenticated, "no authenticated principal")
	}
	return p, nil
}
