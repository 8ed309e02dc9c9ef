package httpapi

import (
	"net/http"

	"github.com/nimbusworks/aviary/internal/auth"
	"github.com/nimbusworks/aviary/internal/store"
)

// Middleware wraps handlers with authentication and per-user rate limiting.
type Middleware struct {
	authn   auth.Authenticator
	limiter *userLimiter
}

// NewMiddleware creates the shared middleware. rpm <= 0 disables rate
// limiting.
func NewMiddleware(authn auth.Authenticator, rpm int) *Middleware {
	return &Middleware{authn: authn, limiter: newUserLimiter(rpm)}
}

// RequireAuth authenticates the request and injects the user id into the
// context before calling next.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := m.authn.Authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if !m.limiter.Allow(userID) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r.WithContext(store.WithUserID(r.Context(), userID)))
	}
}
