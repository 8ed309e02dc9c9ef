package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/store"
	"github.com/nimbusworks/aviary/internal/ws"
)

// memChatStore is an in-memory ChatStore for service tests.
type memChatStore struct {
	sessions  map[uuid.UUID]*store.ChatSession
	messages  map[uuid.UUID][]*store.ChatMessage
	summaries map[uuid.UUID]*store.ChatSummary
}

func newMemChatStore() *memChatStore {
	return &memChatStore{
		sessions:  make(map[uuid.UUID]*store.ChatSession),
		messages:  make(map[uuid.UUID][]*store.ChatMessage),
		summaries: make(map[uuid.UUID]*store.ChatSummary),
	}
}

func (m *memChatStore) CreateSession(_ context.Context, userID string, agentID uuid.UUID, title string) (*store.ChatSession, error) {
	now := time.Now().UTC()
	session := &store.ChatSession{
		ID: store.NewID(), UserID: userID, AgentID: agentID,
		Title: title, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	m.sessions[session.ID] = session
	return session, nil
}

func (m *memChatStore) GetSession(_ context.Context, id uuid.UUID) (*store.ChatSession, error) {
	session, ok := m.sessions[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "session %s not found", id)
	}
	return session, nil
}

func (m *memChatStore) ListSessions(_ context.Context, opts store.ListSessionsOpts) ([]*store.ChatSession, error) {
	var out []*store.ChatSession
	for _, s := range m.sessions {
		if opts.UserID != "" && s.UserID != opts.UserID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memChatStore) UpdateSession(ctx context.Context, id uuid.UUID, upd store.SessionUpdate) (*store.ChatSession, error) {
	session, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		session.Title = *upd.Title
	}
	if upd.IsActive != nil {
		session.IsActive = *upd.IsActive
	}
	session.UpdatedAt = time.Now().UTC()
	return session, nil
}

func (m *memChatStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	delete(m.sessions, id)
	delete(m.messages, id)
	delete(m.summaries, id)
	return nil
}

func (m *memChatStore) AddMessage(_ context.Context, msg *store.ChatMessage) (int, error) {
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	count := 0
	for _, stored := range m.messages[msg.SessionID] {
		if !stored.IsPartial {
			count++
		}
	}
	return count, nil
}

func (m *memChatStore) GetMessages(_ context.Context, sessionID uuid.UUID) ([]*store.ChatMessage, error) {
	return m.messages[sessionID], nil
}

func (m *memChatStore) SaveSummary(_ context.Context, s *store.ChatSummary) error {
	m.summaries[s.SessionID] = s
	return nil
}

func (m *memChatStore) GetSummary(_ context.Context, sessionID uuid.UUID) (*store.ChatSummary, error) {
	summary, ok := m.summaries[sessionID]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no summary for session %s", sessionID)
	}
	return summary, nil
}

// capturePub records published events in order.
type capturePub struct {
	events []ws.Event
}

func (p *capturePub) Publish(_ context.Context, event ws.Event) {
	p.events = append(p.events, event)
}

func newTestService() (*Service, *memChatStore, *capturePub) {
	st := newMemChatStore()
	pub := &capturePub{}
	return NewService(st, pub), st, pub
}

func TestCreateSessionPublishesEvent(t *testing.T) {
	svc, _, pub := newTestService()

	session, err := svc.CreateSession(context.Background(), "alice", store.NewID(), "first chat")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Type != ws.EventSessionCreated {
		t.Fatalf("expected session_created event, got %+v", pub.events)
	}
	if pub.events[0].SessionID() != session.ID.String() {
		t.Errorf("event session id = %q", pub.events[0].SessionID())
	}
}

func TestAddMessageEventTypes(t *testing.T) {
	svc, _, pub := newTestService()
	session, _ := svc.CreateSession(context.Background(), "alice", store.NewID(), "t")
	pub.events = nil

	if _, err := svc.AddMessage(context.Background(), session.ID, store.RoleAgent, store.TextContent("par"), true); err != nil {
		t.Fatalf("add partial: %v", err)
	}
	if _, err := svc.AddMessage(context.Background(), session.ID, store.RoleAgent, store.TextContent("partial done"), false); err != nil {
		t.Fatalf("add final: %v", err)
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if pub.events[0].Type != ws.EventStreamChunk {
		t.Errorf("partial event = %s, want llm_stream_chunk", pub.events[0].Type)
	}
	if pub.events[1].Type != ws.EventMessageCreated {
		t.Errorf("final event = %s, want message_created", pub.events[1].Type)
	}
	if partial, _ := pub.events[0].Payload["is_partial"].(bool); !partial {
		t.Error("partial flag missing from chunk payload")
	}
}

func TestSummaryStride(t *testing.T) {
	svc, st, _ := newTestService()
	session, _ := svc.CreateSession(context.Background(), "alice", store.NewID(), "t")
	ctx := context.Background()

	// Partials must not advance the stride.
	for i := 0; i < 5; i++ {
		if _, err := svc.AddMessage(ctx, session.ID, store.RoleAgent, store.TextContent("p"), true); err != nil {
			t.Fatalf("add partial: %v", err)
		}
	}
	for i := 0; i < store.SummaryStride-1; i++ {
		if _, err := svc.AddMessage(ctx, session.ID, store.RoleUser, store.TextContent("m"), false); err != nil {
			t.Fatalf("add message: %v", err)
		}
	}
	if _, ok := st.summaries[session.ID]; ok {
		t.Fatalf("summary written before stride boundary")
	}

	if _, err := svc.AddMessage(ctx, session.ID, store.RoleAgent, store.TextContent("final"), false); err != nil {
		t.Fatalf("add message: %v", err)
	}
	summary, ok := st.summaries[session.ID]
	if !ok {
		t.Fatal("summary not written at stride boundary")
	}
	if summary.MessageCount != store.SummaryStride {
		t.Errorf("summary count = %d, want %d", summary.MessageCount, store.SummaryStride)
	}
	if !strings.Contains(summary.Text, "Auto-generated summary at 10 messages") {
		t.Errorf("summary text = %q", summary.Text)
	}
}

func TestHistorySkipsPartialsAndToolTraffic(t *testing.T) {
	svc, _, _ := newTestService()
	session, _ := svc.CreateSession(context.Background(), "alice", store.NewID(), "t")
	ctx := context.Background()

	_, _ = svc.AddMessage(ctx, session.ID, store.RoleUser, store.TextContent("question"), false)
	_, _ = svc.AddMessage(ctx, session.ID, store.RoleAgent, store.ToolInvocationContent([]store.ToolCallRecord{{ID: "c1", Name: "lookup"}}), false)
	_, _ = svc.AddMessage(ctx, session.ID, store.RoleTool, store.ToolResultContent("result", nil), false)
	_, _ = svc.AddMessage(ctx, session.ID, store.RoleAgent, store.TextContent("ans"), true)
	_, _ = svc.AddMessage(ctx, session.ID, store.RoleAgent, store.TextContent("answer"), false)

	history, err := svc.History(ctx, session.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2: %+v", len(history), history)
	}
	if history[0].Role != "user" || history[0].Content != "question" {
		t.Errorf("first entry = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "answer" {
		t.Errorf("second entry = %+v", history[1])
	}
}

func TestRecorderPartialPrefixInvariant(t *testing.T) {
	svc, st, _ := newTestService()
	session, _ := svc.CreateSession(context.Background(), "alice", store.NewID(), "t")
	rec := svc.Recorder(session.ID)
	ctx := context.Background()

	deltas := []string{"the ", "answer ", "is 42"}
	var final strings.Builder
	for _, d := range deltas {
		rec.Partial(ctx, d)
		final.WriteString(d)
	}
	rec.Message(ctx, store.RoleAgent, store.TextContent(final.String()))

	msgs := st.messages[session.ID]
	if len(msgs) != 4 {
		t.Fatalf("stored %d messages, want 4", len(msgs))
	}
	var joined strings.Builder
	for _, m := range msgs[:3] {
		if !m.IsPartial {
			t.Errorf("expected partial, got %+v", m)
		}
		joined.WriteString(m.Content.Text)
	}
	if joined.String() != msgs[3].Content.Text {
		t.Errorf("concatenated partials %q != final %q", joined.String(), msgs[3].Content.Text)
	}
	if msgs[3].IsPartial {
		t.Error("final message must not be partial")
	}
}

func TestPublishErrorEvent(t *testing.T) {
	svc, _, pub := newTestService()
	session, _ := svc.CreateSession(context.Background(), "alice", store.NewID(), "t")
	pub.events = nil

	svc.PublishError(context.Background(), session.ID, "An error occurred while generating the response")
	if len(pub.events) != 1 || pub.events[0].Type != ws.EventError {
		t.Fatalf("expected error event, got %+v", pub.events)
	}
	if pub.events[0].SessionID() != session.ID.String() {
		t.Errorf("event session id = %q", pub.events[0].SessionID())
	}
	if pub.events[0].Payload["error"] != "An error occurred while generating the response" {
		t.Errorf("payload = %v", pub.events[0].Payload)
	}
}

func TestUpdateSessionPublishesEvent(t *testing.T) {
	svc, _, pub := newTestService()
	session, _ := svc.CreateSession(context.Background(), "alice", store.NewID(), "old")
	pub.events = nil

	title := "new title"
	updated, err := svc.UpdateSession(context.Background(), session.ID, store.SessionUpdate{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "new title" {
		t.Errorf("title = %q", updated.Title)
	}
	if len(pub.events) != 1 || pub.events[0].Type != ws.EventSessionUpdated {
		t.Fatalf("expected session_updated event, got %+v", pub.events)
	}
}
