// Package chat manages durable sessions and message persistence, publishing
// every change to WebSocket subscribers.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/agent"
	"github.com/nimbusworks/aviary/internal/providers"
	"github.com/nimbusworks/aviary/internal/store"
	"github.com/nimbusworks/aviary/internal/ws"
)

// Service wraps the chat store with event publication and summary upkeep.
type Service struct {
	store store.ChatStore
	pub   ws.Publisher
}

// NewService creates a chat service. pub may be nil to disable events.
func NewService(st store.ChatStore, pub ws.Publisher) *Service {
	return &Service{store: st, pub: pub}
}

// CreateSession creates a session and broadcasts session_created.
func (s *Service) CreateSession(ctx context.Context, userID string, agentID uuid.UUID, title string) (*store.ChatSession, error) {
	session, err := s.store.CreateSession(ctx, userID, agentID, title)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ws.EventSessionCreated, sessionPayload(session))
	slog.Info("chat.session.created", "session", session.ID, "agent", agentID, "user", userID)
	return session, nil
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*store.ChatSession, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions lists sessions matching the filter.
func (s *Service) ListSessions(ctx context.Context, opts store.ListSessionsOpts) ([]*store.ChatSession, error) {
	return s.store.ListSessions(ctx, opts)
}

// UpdateSession applies the update and broadcasts session_updated.
func (s *Service) UpdateSession(ctx context.Context, id uuid.UUID, upd store.SessionUpdate) (*store.ChatSession, error) {
	session, err := s.store.UpdateSession(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ws.EventSessionUpdated, sessionPayload(session))
	slog.Info("chat.session.updated", "session", id)
	return session, nil
}

// DeleteSession removes a session with its messages and summary.
func (s *Service) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteSession(ctx, id)
}

// GetMessages returns the full message history of a session.
func (s *Service) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*store.ChatMessage, error) {
	return s.store.GetMessages(ctx, sessionID)
}

// GetSummary returns the session's rolling summary.
func (s *Service) GetSummary(ctx context.Context, sessionID uuid.UUID) (*store.ChatSummary, error) {
	return s.store.GetSummary(ctx, sessionID)
}

// AddMessage persists a message, refreshes the summary every SummaryStride
// non-partial messages, and broadcasts the message event. Partial messages
// broadcast llm_stream_chunk, completed ones message_created.
func (s *Service) AddMessage(ctx context.Context, sessionID uuid.UUID, role store.Role, content store.MessageContent, isPartial bool) (*store.ChatMessage, error) {
	msg := &store.ChatMessage{
		ID:        store.NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		IsPartial: isPartial,
	}

	nonPartial, err := s.store.AddMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	if !isPartial && nonPartial > 0 && nonPartial%store.SummaryStride == 0 {
		summary := &store.ChatSummary{
			SessionID:    sessionID,
			Text:         fmt.Sprintf("Auto-generated summary at %d messages for session %s.", nonPartial, sessionID),
			MessageCount: nonPartial,
		}
		if err := s.store.SaveSummary(ctx, summary); err != nil {
			slog.Warn("chat.summary.save_failed", "session", sessionID, "error", err)
		} else {
			slog.Info("chat.summary.refreshed", "session", sessionID, "messages", nonPartial)
		}
	}

	eventType := ws.EventMessageCreated
	if isPartial {
		eventType = ws.EventStreamChunk
	}
	s.publish(ctx, eventType, map[string]any{
		"id":         msg.ID.String(),
		"session_id": sessionID.String(),
		"role":       string(role),
		"content":    msg.Content,
		"timestamp":  msg.Timestamp.Format(time.RFC3339Nano),
		"is_partial": isPartial,
	})
	return msg, nil
}

// History rebuilds the provider-facing conversation from the stored
// messages. Partial fragments and tool traffic are skipped: the window
// carries only completed user and agent text.
func (s *Service) History(ctx context.Context, sessionID uuid.UUID) ([]providers.Message, error) {
	msgs, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsPartial || m.Content.Kind != store.ContentText {
			continue
		}
		switch m.Role {
		case store.RoleUser:
			history = append(history, providers.Message{Role: "user", Content: m.Content.Text})
		case store.RoleAgent:
			history = append(history, providers.Message{Role: "assistant", Content: m.Content.Text})
		}
	}
	return history, nil
}

// PublishError broadcasts an error event to the session's subscribers.
func (s *Service) PublishError(ctx context.Context, sessionID uuid.UUID, message string) {
	s.publish(ctx, ws.EventError, map[string]any{
		"session_id": sessionID.String(),
		"error":      message,
	})
}

// Recorder returns an agent.Recorder bound to the session.
func (s *Service) Recorder(sessionID uuid.UUID) agent.Recorder {
	return &recorder{svc: s, sessionID: sessionID}
}

type recorder struct {
	svc       *Service
	sessionID uuid.UUID
}

func (r *recorder) Partial(ctx context.Context, text string) {
	if _, err := r.svc.AddMessage(ctx, r.sessionID, store.RoleAgent, store.TextContent(text), true); err != nil {
		slog.Warn("chat.recorder.partial_failed", "session", r.sessionID, "error", err)
	}
}

func (r *recorder) Message(ctx context.Context, role store.Role, content store.MessageContent) {
	if _, err := r.svc.AddMessage(ctx, r.sessionID, role, content, false); err != nil {
		slog.Warn("chat.recorder.message_failed", "session", r.sessionID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ctx, ws.Event{Type: eventType, Payload: payload})
}

func sessionPayload(session *store.ChatSession) map[string]any {
	return map[string]any{
		"id":         session.ID.String(),
		"session_id": session.ID.String(),
		"user_id":    session.UserID,
		"agent_id":   session.AgentID.String(),
		"title":      session.Title,
		"is_active":  session.IsActive,
		"created_at": session.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": session.UpdatedAt.Format(time.RFC3339Nano),
	}
}
