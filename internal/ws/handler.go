package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TokenVerifier validates a subscription token and returns the user id.
type TokenVerifier interface {
	VerifyWSToken(token string) (userID string, err error)
}

// SessionChecker reports whether a session exists and is visible to the
// user. Returning an error rejects the subscription.
type SessionChecker func(ctx context.Context, sessionID uuid.UUID, userID string) error

// Handler serves the chat subscription endpoint.
type Handler struct {
	hub      *Hub
	verifier TokenVerifier
	check    SessionChecker
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket handler. check may be nil.
func NewHandler(hub *Hub, verifier TokenVerifier, check SessionChecker) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		check:    check,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the subscription endpoint on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/chat/{session_id}", h.handleSubscribe)
}

// handleSubscribe upgrades the connection and pins it to the session's
// channel until the client disconnects. Auth failures close with policy
// violation (1008), internal failures with 1011, clean shutdown with 1000.
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("ws.handler.upgrade_failed", "error", err)
		return
	}
	sub := &subscriber{conn: conn}

	sessionID, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		sub.sendClose(websocket.ClosePolicyViolation, "invalid session id")
		_ = conn.Close()
		return
	}

	token := r.URL.Query().Get("token")
	userID, err := h.verifier.VerifyWSToken(token)
	if err != nil {
		slog.Info("ws.handler.auth_failed", "session", sessionID, "error", err)
		sub.sendClose(websocket.ClosePolicyViolation, "invalid token")
		_ = conn.Close()
		return
	}

	if h.check != nil {
		if err := h.check(r.Context(), sessionID, userID); err != nil {
			slog.Warn("ws.handler.session_check_failed", "session", sessionID, "error", err)
			sub.sendClose(websocket.CloseInternalServerErr, "session unavailable")
			_ = conn.Close()
			return
		}
	}

	channel := ChannelForSession(sessionID)
	h.hub.subscribe(channel, sub)
	slog.Info("ws.handler.connected", "session", sessionID, "user", userID)

	defer func() {
		h.hub.unsubscribe(channel, sub)
		sub.sendClose(websocket.CloseNormalClosure, "")
		_ = conn.Close()
		slog.Info("ws.handler.disconnected", "session", sessionID, "user", userID)
	}()

	// Subscribers are read-only; drain until the peer closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
