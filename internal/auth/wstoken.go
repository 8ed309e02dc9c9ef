package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nimbusworks/aviary/internal/apperr"
)

// DefaultWSTokenTTL is the lifetime of a WebSocket subscription token.
// Tokens are minted per subscription, so a short window is enough.
const DefaultWSTokenTTL = 5 * time.Minute

// WSTokenIssuer mints and verifies the short-lived HS256 tokens used on
// the WebSocket query string, where the bearer header is unavailable.
type WSTokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewWSTokenIssuer creates an issuer. ttl <= 0 uses the default.
func NewWSTokenIssuer(secret string, ttl time.Duration) *WSTokenIssuer {
	if ttl <= 0 {
		ttl = DefaultWSTokenTTL
	}
	return &WSTokenIssuer{secret: []byte(secret), ttl: ttl}
}

// TTL returns the token lifetime.
func (i *WSTokenIssuer) TTL() time.Duration { return i.ttl }

// Mint issues a token for the user.
func (i *WSTokenIssuer) Mint(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.AuthFailure, "sign ws token", err)
	}
	return signed, nil
}

// VerifyWSToken validates a token and returns its user id.
func (i *WSTokenIssuer) VerifyWSToken(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", apperr.Wrap(apperr.AuthFailure, "invalid ws token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", apperr.New(apperr.AuthFailure, "invalid ws token claims")
	}
	return claims.Subject, nil
}
