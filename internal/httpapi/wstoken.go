package httpapi

import (
	"net/http"

	"github.com/nimbusworks/aviary/internal/auth"
	"github.com/nimbusworks/aviary/internal/store"
)

// WSTokenHandler exchanges an authenticated API call for a short-lived
// WebSocket token, since the socket upgrade cannot carry a bearer header.
type WSTokenHandler struct {
	issuer *auth.WSTokenIssuer
	mw     *Middleware
}

// NewWSTokenHandler creates the token exchange handler.
func NewWSTokenHandler(issuer *auth.WSTokenIssuer, mw *Middleware) *WSTokenHandler {
	return &WSTokenHandler{issuer: issuer, mw: mw}
}

// RegisterRoutes registers the token route on the mux.
func (h *WSTokenHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /ws/token", h.mw.RequireAuth(h.handleMint))
}

func (h *WSTokenHandler) handleMint(w http.ResponseWriter, r *http.Request) {
	token, err := h.issuer.Mint(store.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(h.issuer.TTL().Seconds()),
	})
}
