package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimbusworks/aviary/internal/apperr"
)

func TestStaticTokens(t *testing.T) {
	a := NewStaticTokens(map[string]string{"tok-1": "alice", "tok-2": "bob"})

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid token", "Bearer tok-1", "alice", false},
		{"second token", "Bearer tok-2", "bob", false},
		{"case-insensitive scheme", "bearer tok-1", "alice", false},
		{"unknown token", "Bearer nope", "", true},
		{"missing header", "", "", true},
		{"wrong scheme", "Basic tok-1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := a.Authenticate(r)
			if tt.wantErr {
				if !apperr.IsKind(err, apperr.AuthFailure) {
					t.Errorf("expected AuthFailure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("authenticate: %v", err)
			}
			if got != tt.want {
				t.Errorf("user = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWSTokenRoundTrip(t *testing.T) {
	issuer := NewWSTokenIssuer("secret", time.Minute)

	token, err := issuer.Mint("alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	userID, err := issuer.VerifyWSToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "alice" {
		t.Errorf("user = %q, want alice", userID)
	}
}

func TestWSTokenExpired(t *testing.T) {
	issuer := NewWSTokenIssuer("secret", -time.Minute)
	token, err := issuer.Mint("alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := issuer.VerifyWSToken(token); !apperr.IsKind(err, apperr.AuthFailure) {
		t.Errorf("expected AuthFailure for expired token, got %v", err)
	}
}

func TestWSTokenWrongSecret(t *testing.T) {
	token, err := NewWSTokenIssuer("secret-a", time.Minute).Mint("alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := NewWSTokenIssuer("secret-b", time.Minute).VerifyWSToken(token); !apperr.IsKind(err, apperr.AuthFailure) {
		t.Errorf("expected AuthFailure for wrong secret, got %v", err)
	}
}
