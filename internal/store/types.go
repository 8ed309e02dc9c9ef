// Package store defines the persisted data model and storage interfaces.
// Implementations live in store/pg (Postgres) and store/sqlite (standalone).
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SummaryStride is the number of non-partial messages between automatic
// summary refreshes for a chat session.
const SummaryStride = 10

// Secret names recognised by the platform. Secrets are opaque strings; they
// are never logged and never included in broadcast payloads.
const (
	SecretDiscordBotToken  = "discord_bot_token"
	SecretTelegramBotToken = "telegram_bot_token"
	SecretTelegramAPIID    = "telegram_api_id"
	SecretTelegramAPIHash  = "telegram_api_hash"
	SecretGroqAPIKey       = "groq_api_key"
	SecretOpenAIAPIKey     = "openai_api_key"
	SecretAnthropicAPIKey  = "anthropic_api_key"
	SecretGoogleAPIKey     = "google_api_key"
)

// Secrets maps credential names to opaque values.
type Secrets map[string]string

// Get returns the named secret or "".
func (s Secrets) Get(name string) string {
	if s == nil {
		return ""
	}
	return s[name]
}

// HasTelegram reports whether the full Telegram credential triple is present.
func (s Secrets) HasTelegram() bool {
	return s.Get(SecretTelegramBotToken) != "" &&
		s.Get(SecretTelegramAPIID) != "" &&
		s.Get(SecretTelegramAPIHash) != ""
}

// HasDiscord reports whether a Discord bot token is present.
func (s Secrets) HasDiscord() bool {
	return s.Get(SecretDiscordBotToken) != ""
}

// Redacted returns the secret names only, for logging.
func (s Secrets) Redacted() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	return names
}

// AgentSettings holds the model invocation parameters for an agent.
type AgentSettings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
	Secrets     Secrets `json:"secrets,omitempty"`
}

// AgentToolBinding links an agent to a globally defined tool.
type AgentToolBinding struct {
	ToolID    uuid.UUID `json:"tool_id"`
	IsEnabled bool      `json:"is_enabled"`
}

// AgentConfig is the persisted definition of an agent persona.
type AgentConfig struct {
	ID              uuid.UUID          `json:"id"`
	UserID          string             `json:"user_id"`
	Name            string             `json:"name"`
	ModelProvider   string             `json:"modelProvider"`
	Settings        AgentSettings      `json:"settings"`
	System          string             `json:"system,omitempty"`
	Bio             []string           `json:"bio,omitempty"`
	Lore            []string           `json:"lore,omitempty"`
	Knowledge       []string           `json:"knowledge,omitempty"`
	MessageExamples json.RawMessage    `json:"messageExamples,omitempty"`
	Style           json.RawMessage    `json:"style,omitempty"`
	Tools           []AgentToolBinding `json:"tools,omitempty"`
	LastUsed        *time.Time         `json:"last_used,omitempty"`
	TotalSessions   int                `json:"total_sessions"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Tool is a globally defined remote tool-server binding. Config carries the
// endpoint description ({"url": ..., "transport": ...}).
type Tool struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Role is the message role vocabulary used at every layer.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleTool:
		return true
	}
	return false
}

// ContentKind discriminates the MessageContent variants.
type ContentKind string

const (
	ContentText           ContentKind = "text"
	ContentToolInvocation ContentKind = "tool_invocation"
	ContentToolResult     ContentKind = "tool_result"
)

// ToolCallRecord is a persisted tool invocation requested by the model.
type ToolCallRecord struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// MessageContent is the tagged content of a chat message: plain text, a list
// of tool calls, or a tool result payload.
type MessageContent struct {
	Kind       ContentKind      `json:"kind"`
	Text       string           `json:"text,omitempty"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolResult json.RawMessage  `json:"tool_result,omitempty"`
}

// TextContent builds a plain-text content value.
func TextContent(text string) MessageContent {
	return MessageContent{Kind: ContentText, Text: text}
}

// ToolInvocationContent builds a content value for requested tool calls.
func ToolInvocationContent(calls []ToolCallRecord) MessageContent {
	return MessageContent{Kind: ContentToolInvocation, ToolCalls: calls}
}

// ToolResultContent builds a content value for a tool output. The text form
// is what the model sees; the raw payload is kept for the API surface.
func ToolResultContent(text string, raw json.RawMessage) MessageContent {
	return MessageContent{Kind: ContentToolResult, Text: text, ToolResult: raw}
}

// ChatSession is a durable conversation between one user and one agent.
type ChatSession struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is one entry in a session's history. Partial messages are
// streamed fragments; the final message supersedes them for subscribers but
// both persist.
type ChatMessage struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	Role      Role           `json:"role"`
	Content   MessageContent `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	IsPartial bool           `json:"is_partial"`
}

// ChatSummary is the rolling auto-generated summary for a session.
type ChatSummary struct {
	SessionID    uuid.UUID `json:"session_id"`
	Text         string    `json:"text"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewID generates a time-ordered UUID for primary keys.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
