// Package session guards backend calls with the live session token.
//
// Token acquisition (login, refresh) is an external collaborator; this
// package only answers the question "do we currently hold a usable
// token?". A missing or expired token is fatal to the call asking for
// it — it is never retried here.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession indicates no session token is held at all.
	ErrNoSession = errors.New("no active session")

	// ErrSessionExpired indicates the held token's validity window has
	// passed.
	ErrSessionExpired = errors.New("session expired")
)

// Provider yields the bearer token for authoritative-store calls.
type Provider interface {
	// Token returns the current bearer token, or ErrNoSession /
	// ErrSessionExpired when no usable session exists.
	Token(ctx context.Context) (string, error)
}

// Static is a Provider wrapping a fixed opaque token. Useful for tests
// and for backends that hand out non-JWT credentials.
type Static string

// Token returns the wrapped token, or ErrNoSession when empty.
func (s Static) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoSession
	}
	return string(s), nil
}

// TokenProvider holds a JWT issued by the external auth collaborator and
// validates its time claims before every use. The signature is not
// verified here — the backend is the verifying party; this check only
// exists to fail fast instead of sending a request that is known dead.
type TokenProvider struct {
	mu    sync.RWMutex
	token string
	exp   *time.Time
}

// NewTokenProvider creates a provider holding the given JWT. Returns an
// error if the token is present but not parseable as a JWT.
func NewTokenProvider(token string) (*TokenProvider, error) {
	p := &TokenProvider{}
	if token == "" {
		return p, nil
	}
	if err := p.Refresh(token); err != nil {
		return nil, err
	}
	return p, nil
}

// Refresh swaps in a newly issued token.
func (p *TokenProvider) Refresh(token string) error {
	exp, err := tokenExpiry(token)
	if err != nil {
		return fmt.Errorf("failed to parse session token: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.exp = exp
	return nil
}

// Token returns the held token after checking its validity window.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return "", ErrNoSession
	}
	if p.exp != nil && time.Now().After(*p.exp) {
		return "", ErrSessionExpired
	}
	return p.token, nil
}

// tokenExpiry extracts the exp claim, if any, without verifying the
// signature.
func tokenExpiry(token string) (*time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, nil // token never expires
	}
	return &exp.Time, nil
}
