package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/chat"
	"github.com/nimbusworks/aviary/internal/store"
)

// AgentsHandler serves agent CRUD and the direct agent chat endpoint.
type AgentsHandler struct {
	manager AgentManager
	agents  store.AgentStore
	chat    *chat.Service
	mw      *Middleware
}

// NewAgentsHandler creates the agents handler.
func NewAgentsHandler(manager AgentManager, agents store.AgentStore, chatSvc *chat.Service, mw *Middleware) *AgentsHandler {
	return &AgentsHandler{manager: manager, agents: agents, chat: chatSvc, mw: mw}
}

// RegisterRoutes registers the agent routes on the mux.
func (h *AgentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /agents/create", h.mw.RequireAuth(h.handleCreate))
	mux.HandleFunc("GET /agents/list", h.mw.RequireAuth(h.handleList))
	mux.HandleFunc("GET /agents/{agent_id}", h.mw.RequireAuth(h.handleGet))
	mux.HandleFunc("PUT /agents/{agent_id}", h.mw.RequireAuth(h.handleUpdate))
	mux.HandleFunc("DELETE /agents/{agent_id}", h.mw.RequireAuth(h.handleDelete))
	mux.HandleFunc("POST /agents/{agent_id}/chat", h.mw.RequireAuth(h.handleChat))
}

func (h *AgentsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var cfg store.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid JSON", err))
		return
	}
	cfg.ID = uuid.Nil
	cfg.UserID = store.UserIDFromContext(r.Context())

	inst, err := h.manager.Create(r.Context(), &cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst.Config)
}

func (h *AgentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := store.UserIDFromContext(r.Context())
	configs, err := h.agents.ListAgentsForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (h *AgentsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, apperr.New(apperr.Validation, "invalid agent id"))
		return
	}
	cfg, err := h.agents.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if cfg.UserID != store.UserIDFromContext(r.Context()) {
		cfg = redactConfig(cfg)
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *AgentsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, apperr.New(apperr.Validation, "invalid agent id"))
		return
	}
	var cfg store.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid JSON", err))
		return
	}
	cfg.ID = id

	inst, err := h.manager.Update(r.Context(), store.UserIDFromContext(r.Context()), &cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst.Config)
}

func (h *AgentsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, apperr.New(apperr.Validation, "invalid agent id"))
		return
	}
	if err := h.manager.Delete(r.Context(), store.UserIDFromContext(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleChat runs one turn against the agent, creating or reusing the
// caller's session with it.
func (h *AgentsHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.PathValue("agent_id"))
	if err != nil {
		writeError(w, apperr.New(apperr.Validation, "invalid agent id"))
		return
	}

	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "invalid JSON", err))
		return
	}
	if req.Message == "" {
		writeError(w, apperr.New(apperr.Validation, "message content is required"))
		return
	}

	inst, err := h.manager.Get(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}

	userID := store.UserIDFromContext(r.Context())
	session, err := h.resolveSession(r, userID, agentID, req.SessionID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	final, err := runSessionTurn(r.Context(), h.chat, inst, session.ID, req.Message, false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response":   final,
		"session_id": session.ID.String(),
	})
}

// resolveSession picks the session for a direct agent chat: an explicit id
// (owner-checked), the user's most recent active session with the agent,
// or a fresh one titled after the first message.
func (h *AgentsHandler) resolveSession(r *http.Request, userID string, agentID uuid.UUID, sessionID, message string) (*store.ChatSession, error) {
	ctx := r.Context()
	if sessionID != "" {
		id, err := uuid.Parse(sessionID)
		if err != nil {
			return nil, apperr.New(apperr.Validation, "invalid session id")
		}
		session, err := h.chat.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if session.UserID != userID {
			return nil, apperr.New(apperr.Forbidden, "access denied to this session")
		}
		return session, nil
	}

	sessions, err := h.chat.ListSessions(ctx, store.ListSessionsOpts{
		UserID: userID, AgentID: agentID, ActiveOnly: true, Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		return sessions[0], nil
	}

	title := message
	if len(title) > 50 {
		title = title[:50]
	}
	return h.chat.CreateSession(ctx, userID, agentID, title)
}

// redactConfig strips per-agent secrets for non-owner reads.
func redactConfig(cfg *store.AgentConfig) *store.AgentConfig {
	redacted := *cfg
	redacted.Settings.Secrets = nil
	return &redacted
}
