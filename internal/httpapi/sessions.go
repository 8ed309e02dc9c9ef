package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/chat"
	"github.com/nimbusworks/aviary/internal/store"
)

// SessionsHandler serves session CRUD and the session-scoped chat turn.
type SessionsHandler struct {
	manager AgentManager
	chat    *chat.Service
	mw      *Middleware
}

// NewSessionsHandler creates the sessions handler.
func NewSessionsHandler(manager AgentManager, chatSvc *chat.Service, mw *Middleware) *SessionsHandler {
	return &SessionsHandler{manager: manager, chat: chatSvc, mw: mw}
}

// RegisterRoutes registers the chat session routes on the mux.
func (h *SessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat/sessions", h.mw.RequireAuth(h.handleCreate))
	mux.HandleFunc("GET /chat/sessions", h.mw.RequireAuth(h.handleList))
	mux.HandleFunc("GET /chat/sessions/{session_id}", h.mw.RequireAuth(h.handleGet))
	mux.HandleFunc("PUT /chat/sessions/{session_id}", h.mw.RequireAuth(h.handleUpdate))
	mux.HandleFunc("DELETE /chat/sessions/{session_id}", h.mw.RequireAuth(h.handleDelete))
	mux.HandleFunc("GET /chat/sessions/{session_id}/messages", h.mw.RequireAuth(h.handleMessages))
	mux.HandleFunc("POST /chat/sessions/{session_id}/messages", h.mw.RequireAuth(h.handleSendMessage))
	mux.HandleFunc("GET /chat/sessions/{session_id}/summary", h.mw.RequireAuth(h.handleSummary))
}

// ownedSession loads the session and enforces ownership.
func (h *SessionsHandler) ownedSession(r *http.Request) (*store.ChatSession, error) {
	id, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		return nil, apperr.New(apperr.Validation, "invalid session id")
	}
	session, err := h.chat.GetSession(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if session.UserID != store.UserIDFromContext(r.Context()) {
		return nil, apperr.New(apperr.Forbidden, "access denied to this session")
	}
	return session, nil
}

func (h *SessionsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		Title   string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid JSON", err))
		return
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		writeError(w, apperr.New(apperr.Validation, "agent_id is required"))
		return
	}

	// The agent must exist and materialise before a session is bound to it.
	if _, err := h.manager.Get(r.Context(), agentID); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.chat.CreateSession(r.Context(), store.UserIDFromContext(r.Context()), agentID, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *SessionsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	opts := store.ListSessionsOpts{
		UserID:     store.UserIDFromContext(r.Context()),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	if raw := r.URL.Query().Get("agent_id"); raw != "" {
		agentID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, apperr.New(apperr.Validation, "invalid agent_id filter"))
			return
		}
		opts.AgentID = agentID
	}

	sessions, err := h.chat.ListSessions(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*store.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *SessionsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *SessionsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Title    *string `json:"title"`
		IsActive *bool   `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid JSON", err))
		return
	}
	if _, err := h.chat.UpdateSession(r.Context(), session.ID, store.SessionUpdate{
		Title:    req.Title,
		IsActive: req.IsActive,
	}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.chat.DeleteSession(r.Context(), session.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := h.chat.GetMessages(r.Context(), session.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleSendMessage adds the user message and streams the agent response
// to the session's subscribers, returning once the turn completes.
func (h *SessionsHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid JSON", err))
		return
	}
	if req.Content == "" {
		writeError(w, apperr.New(apperr.Validation, "message content is required"))
		return
	}
	if req.Role != "" && req.Role != string(store.RoleUser) {
		writeError(w, apperr.New(apperr.Validation, "only user messages can start a turn"))
		return
	}

	inst, err := h.manager.Get(r.Context(), session.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := runSessionTurn(r.Context(), h.chat, inst, session.ID, req.Content, true); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": session.ID.String(),
		"message":    "Message processed and response streamed.",
	})
}

func (h *SessionsHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	session, err := h.ownedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.chat.GetSummary(r.Context(), session.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
