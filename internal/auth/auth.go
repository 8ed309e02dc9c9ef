// Package auth authenticates API callers and issues short-lived tokens for
// WebSocket subscriptions.
package auth

import (
	"net/http"
	"strings"
	"sync"

	"github.com/nimbusworks/aviary/internal/apperr"
)

// Authenticator resolves an HTTP request to a user id.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// StaticTokens authenticates bearer tokens against a fixed token-to-user
// map loaded from configuration.
type StaticTokens map[string]string

// NewStaticTokens creates an authenticator from a token-to-user map.
func NewStaticTokens(tokens map[string]string) StaticTokens {
	copied := make(StaticTokens, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return copied
}

func (s StaticTokens) Authenticate(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		return "", apperr.New(apperr.AuthFailure, "missing bearer token")
	}
	userID, ok := s[token]
	if !ok {
		return "", apperr.New(apperr.AuthFailure, "unknown token")
	}
	return userID, nil
}

// TokenSet is an Authenticator whose token map can be swapped at runtime.
// Config hot reload uses it to rotate API tokens without a restart.
type TokenSet struct {
	mu     sync.RWMutex
	tokens StaticTokens
}

// NewTokenSet creates a swappable authenticator from a token-to-user map.
func NewTokenSet(tokens map[string]string) *TokenSet {
	return &TokenSet{tokens: NewStaticTokens(tokens)}
}

// Replace swaps the token map.
func (t *TokenSet) Replace(tokens map[string]string) {
	next := NewStaticTokens(tokens)
	t.mu.Lock()
	t.tokens = next
	t.mu.Unlock()
}

func (t *TokenSet) Authenticate(r *http.Request) (string, error) {
	t.mu.RLock()
	tokens := t.tokens
	t.mu.RUnlock()
	return tokens.Authenticate(r)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
