package store

import (
	"context"

	"github.com/google/uuid"
)

// AgentStore persists agent configurations and the global tool catalogue.
type AgentStore interface {
	CreateAgent(ctx context.Context, cfg *AgentConfig) error
	GetAgent(ctx context.Context, id uuid.UUID) (*AgentConfig, error)
	GetAgentByName(ctx context.Context, name string) (*AgentConfig, error)
	ListAgents(ctx context.Context) ([]*AgentConfig, error)
	ListAgentsForUser(ctx context.Context, userID string) ([]*AgentConfig, error)
	UpdateAgent(ctx context.Context, cfg *AgentConfig) error
	// DeleteAgent cascades tool bindings and chat sessions.
	DeleteAgent(ctx context.Context, id uuid.UUID) error

	CreateTool(ctx context.Context, tool *Tool) error
	GetToolsByIDs(ctx context.Context, ids []uuid.UUID) ([]*Tool, error)
	ListTools(ctx context.Context) ([]*Tool, error)
}

// ListSessionsOpts filters a session listing. Limit <= 0 means the
// implementation default (100).
type ListSessionsOpts struct {
	UserID     string
	AgentID    uuid.UUID // uuid.Nil = any agent
	ActiveOnly bool
	Limit      int
}

// SessionUpdate holds the mutable session fields; nil means unchanged.
type SessionUpdate struct {
	Title    *string
	IsActive *bool
}

// ChatStore persists sessions, messages, and summaries.
type ChatStore interface {
	// CreateSession atomically inserts the session and bumps the owning
	// agent's last_used / total_sessions counters.
	CreateSession(ctx context.Context, userID string, agentID uuid.UUID, title string) (*ChatSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*ChatSession, error)
	ListSessions(ctx context.Context, opts ListSessionsOpts) ([]*ChatSession, error)
	UpdateSession(ctx context.Context, id uuid.UUID, upd SessionUpdate) (*ChatSession, error)
	// DeleteSession removes the session, its messages, and its summary.
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// AddMessage inserts the message and bumps the session's updated_at.
	// It returns the session's non-partial message count after the insert,
	// which drives summary regeneration.
	AddMessage(ctx context.Context, msg *ChatMessage) (nonPartial int, err error)
	GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*ChatMessage, error)

	SaveSummary(ctx context.Context, s *ChatSummary) error
	GetSummary(ctx context.Context, sessionID uuid.UUID) (*ChatSummary, error)
}

// Stores bundles the storage interfaces handed to the wiring layer.
type Stores struct {
	Agents AgentStore
	Chat   ChatStore
}
