package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp *time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"user_id": "u1"}
	if exp != nil {
		claims["exp"] = jwt.NewNumericDate(*exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestStatic(t *testing.T) {
	_, err := Static("").Token(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	token, err := Static("opaque").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque", token)
}

func TestTokenProvider_NoSession(t *testing.T) {
	p, err := NewTokenProvider("")
	require.NoError(t, err)

	_, err = p.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestTokenProvider_ValidToken(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	raw := signedToken(t, &exp)

	p, err := NewTokenProvider(raw)
	require.NoError(t, err)

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, token)
}

func TestTokenProvider_Expired(t *testing.T) {
	exp := time.Now().Add(-time.Minute)
	p, err := NewTokenProvider(signedToken(t, &exp))
	require.NoError(t, err)

	_, err = p.Token(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestTokenProvider_NoExpiryClaim(t *testing.T) {
	p, err := NewTokenProvider(signedToken(t, nil))
	require.NoError(t, err)

	_, err = p.Token(context.Background())
	assert.NoError(t, err)
}

func TestTokenProvider_RefreshReplacesExpired(t *testing.T) {
	stale := time.Now().Add(-time.Minute)
	p, err := NewTokenProvider(signedToken(t, &stale))
	require.NoError(t, err)

	fresh := time.Now().Add(time.Hour)
	require.NoError(t, p.Refresh(signedToken(t, &fresh)))

	_, err = p.Token(context.Background())
	assert.NoError(t, err)
}

func TestTokenProvider_Malformed(t *testing.T) {
	_, err := NewTokenProvider("not-a-jwt")
	assert.Error(t, err)
}
