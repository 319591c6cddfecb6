package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/models"
)

const testSecret = "test-secret"

func TestTokenService_Issue(t *testing.T) {
	s := NewTokenService(testSecret, time.Hour)

	tests := []struct {
		name        string
		principal   Principal
		expectError bool
	}{
		{
			name:      "Seller",
			principal: Principal{ID: "seller1", Role: models.RoleSeller},
		},
		{
			name:      "Admin",
			principal: Principal{ID: "admin1", Role: models.RoleAdmin},
		},
		{
			name:        "MissingID",
			principal:   Principal{Role: models.RoleBuyer},
			expectError: true,
		},
		{
			name:        "UnknownRole",
			principal:   Principal{ID: "x", Role: models.Role("root")},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := s.Issue(tt.principal)
			if tt.expectError {
				assert.True(t, errors.Is(err, apperr.ErrValidation))
				return
			}
			require.NoError(t, err)

			got, err := s.Parse(token)
			require.NoError(t, err)
			assert.Equal(t, tt.principal, got)
		})
	}
}

func TestTokenService_Parse(t *testing.T) {
	s := NewTokenService(testSecret, time.Hour)
	valid, err := s.Issue(Principal{ID: "buyer1", Role: models.RoleBuyer})
	require.NoError(t, err)

	sign := func(secret string, method jwt.SigningMethod, claims Claims) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return tok
	}
	expired := sign(testSecret, jwt.SigningMethodHS256, Claims{
		Role: models.RoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "buyer1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	wrongKey := sign("wrong-key", jwt.SigningMethodHS256, Claims{
		Role:             models.RoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "buyer1"},
	})
	wrongAlg := sign(testSecret, jwt.SigningMethodHS512, Claims{
		Role:             models.RoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "buyer1"},
	})
	noRole := sign(testSecret, jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "buyer1"},
	})

	tests := []struct {
		name        string
		token       string
		expectID    string
		expectError bool
	}{
		{name: "Success", token: valid, expectID: "buyer1"},
		{name: "ExpiredToken", token: expired, expectError: true},
		{name: "InvalidSignature", token: wrongKey, expectError: true},
		{name: "UnexpectedAlgorithm", token: wrongAlg, expectError: true},
		{name: "MissingRole", token: noRole, expectError: true},
		{name: "EmptyToken", token: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.Parse(tt.token)
			if tt.expectError {
				assert.True(t, errors.Is(err, apperr.ErrUnauthenticated), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectID, p.ID)
		})
	}
}

func TestTokenService_Expiry(t *testing.T) {
	s := NewTokenService(testSecret, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	token, err := s.Issue(Principal{ID: "buyer1", Role: models.RoleBuyer})
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = s.Parse(token)
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))
	assert.Contains(t, err.Error(), "token expired")
}

func TestContextSource(t *testing.T) {
	var src ContextSource

	_, err := src.CurrentPrincipal(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))

	want := Principal{ID: "seller1", Role: models.RoleSeller}
	got, err := src.CurrentPrincipal(WithPrincipal(context.Background(), want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSession(t *testing.T) {
	tokens := NewTokenService(testSecret, time.Hour)
	session := NewSession(tokens)
	ctx := context.Background()

	var seen []*Principal
	unsubscribe := session.OnPrincipalChanged(func(p *Principal) {
		seen = append(seen, p)
	})

	_, err := session.CurrentPrincipal(ctx)
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))

	_, err = session.SignIn("garbage")
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))
	assert.Empty(t, seen, "failed sign-in does not notify")

	token, err := tokens.Issue(Principal{ID: "buyer1", Role: models.RoleBuyer})
	require.NoError(t, err)
	p, err := session.SignIn(token)
	require.NoError(t, err)
	assert.Equal(t, "buyer1", p.ID)
	assert.Equal(t, token, session.Token())

	current, err := session.CurrentPrincipal(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, current)

	session.SignOut()
	assert.Empty(t, session.Token())

	require.Len(t, seen, 2)
	assert.Equal(t, "buyer1", seen[0].ID)
	assert.Nil(t, seen[1])

	unsubscribe()
	_, err = session.SignIn(token)
	require.NoError(t, err)
	assert.Len(t, seen, 2, "unsubscribed listeners are not called")
}
