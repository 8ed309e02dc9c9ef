package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/store"
)

func openTestStores(t *testing.T) store.Stores {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStores(db)
}

func testAgent(name string) *store.AgentConfig {
	return &store.AgentConfig{
		ID:            store.NewID(),
		UserID:        "alice",
		Name:          name,
		ModelProvider: "groq",
		Settings: store.AgentSettings{
			Model:       "llama-3.3-70b",
			Temperature: 0.7,
			MaxTokens:   2048,
			Secrets:     store.Secrets{store.SecretGroqAPIKey: "gsk-test"},
		},
		System:    "You are a test agent.",
		Bio:       []string{"first line", "second line"},
		Knowledge: []string{"testing"},
		Style:     json.RawMessage(`{"all": ["terse"]}`),
	}
}

func TestAgentRoundTrip(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	want := testAgent("Helper")
	if err := stores.Agents.CreateAgent(ctx, want); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	got, err := stores.Agents.GetAgent(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != "Helper" || got.UserID != "alice" || got.ModelProvider != "groq" {
		t.Errorf("agent = %+v", got)
	}
	if got.Settings.Model != "llama-3.3-70b" || got.Settings.MaxTokens != 2048 {
		t.Errorf("settings = %+v", got.Settings)
	}
	if got.Settings.Secrets.Get(store.SecretGroqAPIKey) != "gsk-test" {
		t.Error("secrets did not survive the round trip")
	}
	if len(got.Bio) != 2 || got.Bio[0] != "first line" {
		t.Errorf("bio = %v", got.Bio)
	}
	if string(got.Style) != `{"all": ["terse"]}` {
		t.Errorf("style = %s", got.Style)
	}

	byName, err := stores.Agents.GetAgentByName(ctx, "Helper")
	if err != nil {
		t.Fatalf("GetAgentByName: %v", err)
	}
	if byName.ID != want.ID {
		t.Errorf("GetAgentByName id = %s, want %s", byName.ID, want.ID)
	}
}

func TestAgentNameConflict(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	if err := stores.Agents.CreateAgent(ctx, testAgent("Taken")); err != nil {
		t.Fatal(err)
	}
	err := stores.Agents.CreateAgent(ctx, testAgent("Taken"))
	if !apperr.IsKind(err, apperr.Conflict) {
		t.Errorf("duplicate name error = %v, want Conflict", err)
	}
}

func TestAgentToolBindings(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	tool := &store.Tool{
		ID:     store.NewID(),
		Name:   "news-server",
		Config: json.RawMessage(`{"url": "http://localhost:9100/mcp"}`),
	}
	if err := stores.Agents.CreateTool(ctx, tool); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}

	cfg := testAgent("Bound")
	cfg.Tools = []store.AgentToolBinding{{ToolID: tool.ID, IsEnabled: true}}
	if err := stores.Agents.CreateAgent(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := stores.Agents.GetAgent(ctx, cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tools) != 1 || got.Tools[0].ToolID != tool.ID || !got.Tools[0].IsEnabled {
		t.Errorf("bindings = %+v", got.Tools)
	}

	tools, err := stores.Agents.GetToolsByIDs(ctx, []uuid.UUID{tool.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || string(tools[0].Config) != `{"url": "http://localhost:9100/mcp"}` {
		t.Errorf("tools = %+v", tools)
	}
}

func TestAgentUpdate(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	cfg := testAgent("Before")
	if err := stores.Agents.CreateAgent(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	cfg.Name = "After"
	cfg.Settings.Temperature = 0.2
	if err := stores.Agents.UpdateAgent(ctx, cfg); err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}

	got, err := stores.Agents.GetAgentByName(ctx, "After")
	if err != nil {
		t.Fatalf("renamed agent not found: %v", err)
	}
	if got.Settings.Temperature != 0.2 {
		t.Errorf("temperature = %v", got.Settings.Temperature)
	}
	if _, err := stores.Agents.GetAgentByName(ctx, "Before"); !apperr.IsKind(err, apperr.NotFound) {
		t.Errorf("old name still resolves: %v", err)
	}
}

func TestCreateSessionBumpsAgentStats(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	cfg := testAgent("Stats")
	if err := stores.Agents.CreateAgent(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	if _, err := stores.Chat.CreateSession(ctx, "alice", cfg.ID, "one"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := stores.Chat.CreateSession(ctx, "alice", cfg.ID, "two"); err != nil {
		t.Fatal(err)
	}

	got, err := stores.Agents.GetAgent(ctx, cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d, want 2", got.TotalSessions)
	}
	if got.LastUsed == nil {
		t.Error("LastUsed not set")
	}

	_, err = stores.Chat.CreateSession(ctx, "alice", store.NewID(), "orphan")
	if !apperr.IsKind(err, apperr.NotFound) {
		t.Errorf("unknown agent error = %v, want NotFound", err)
	}
}

func TestMessagesOrderAndPartialCount(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	cfg := testAgent("Msgs")
	if err := stores.Agents.CreateAgent(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	session, err := stores.Chat.CreateSession(ctx, "alice", cfg.ID, "t")
	if err != nil {
		t.Fatal(err)
	}

	add := func(role store.Role, text string, partial bool) int {
		t.Helper()
		n, err := stores.Chat.AddMessage(ctx, &store.ChatMessage{
			ID:        store.NewID(),
			SessionID: session.ID,
			Role:      role,
			Content:   store.TextContent(text),
			Timestamp: time.Now().UTC(),
			IsPartial: partial,
		})
		if err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
		return n
	}

	add(store.RoleUser, "hello", false)
	add(store.RoleAgent, "par", true)
	add(store.RoleAgent, "partial two", true)
	n := add(store.RoleAgent, "final", false)
	if n != 2 {
		t.Errorf("non-partial count = %d, want 2", n)
	}

	msgs, err := stores.Chat.GetMessages(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Content.Text != "hello" || msgs[3].Content.Text != "final" {
		t.Errorf("order: first=%q last=%q", msgs[0].Content.Text, msgs[3].Content.Text)
	}
	if !msgs[1].IsPartial || msgs[3].IsPartial {
		t.Error("is_partial flags wrong")
	}

	_, err = stores.Chat.AddMessage(ctx, &store.ChatMessage{
		ID:        store.NewID(),
		SessionID: store.NewID(),
		Role:      store.RoleUser,
		Content:   store.TextContent("orphan"),
		Timestamp: time.Now().UTC(),
	})
	if !apperr.IsKind(err, apperr.NotFound) {
		t.Errorf("unknown session error = %v, want NotFound", err)
	}
}

func TestToolContentRoundTrip(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	cfg := testAgent("ToolMsg")
	if err := stores.Agents.CreateAgent(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	session, err := stores.Chat.CreateSession(ctx, "alice", cfg.ID, "t")
	if err != nil {
		t.Fatal(err)
	}

	calls := []store.ToolCallRecord{{ID: "call_1", Name: "get_news", Args: map[string]any{"topic": "go"}}}
	if _, err := stores.Chat.AddMessage(ctx, &store.ChatMessage{
		ID:        store.NewID(),
		SessionID: session.ID,
		Role:      store.RoleAgent,
		Content:   store.ToolInvocationContent(calls),
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := stores.Chat.AddMessage(ctx, &store.ChatMessage{
		ID:        store.NewID(),
		SessionID: session.ID,
		Role:      store.RoleTool,
		Content:   store.ToolResultContent("3 articles", json.RawMessage(`{"news_count": 3}`)),
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err := stores.Chat.GetMessages(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].Content.Kind != store.ContentToolInvocation || msgs[0].Content.ToolCalls[0].Name != "get_news" {
		t.Errorf("invocation = %+v", msgs[0].Content)
	}
	if msgs[1].Content.Kind != store.ContentToolResult || msgs[1].Content.Text != "3 articles" {
		t.Errorf("result = %+v", msgs[1].Content)
	}
	// Raw payload survives storage; json.Marshal compacts RawMessage, so
	// compare decoded values rather than bytes.
	var payload map[string]any
	if err := json.Unmarshal(msgs[1].Content.ToolResult, &payload); err != nil {
		t.Fatalf("decode tool result payload: %v", err)
	}
	if payload["news_count"] != float64(3) {
		t.Errorf("tool result payload = %v", payload)
	}
}

func TestListSessionsFilters(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	agentA := testAgent("FilterA")
	agentB := testAgent("FilterB")
	agentB.UserID = "bob"
	if err := stores.Agents.CreateAgent(ctx, agentA); err != nil {
		t.Fatal(err)
	}
	if err := stores.Agents.CreateAgent(ctx, agentB); err != nil {
		t.Fatal(err)
	}

	s1, _ := stores.Chat.CreateSession(ctx, "alice", agentA.ID, "a1")
	stores.Chat.CreateSession(ctx, "alice", agentB.ID, "b1")
	stores.Chat.CreateSession(ctx, "bob", agentB.ID, "b2")

	inactive := false
	if _, err := stores.Chat.UpdateSession(ctx, s1.ID, store.SessionUpdate{IsActive: &inactive}); err != nil {
		t.Fatal(err)
	}

	all, err := stores.Chat.ListSessions(ctx, store.ListSessionsOpts{UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("alice sessions = %d, want 2", len(all))
	}

	active, err := stores.Chat.ListSessions(ctx, store.ListSessionsOpts{UserID: "alice", ActiveOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Title != "b1" {
		t.Errorf("active = %+v", active)
	}

	byAgent, err := stores.Chat.ListSessions(ctx, store.ListSessionsOpts{AgentID: agentB.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAgent) != 2 {
		t.Errorf("agentB sessions = %d, want 2", len(byAgent))
	}
}

func TestSummaryUpsert(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	cfg := testAgent("Sum")
	if err := stores.Agents.CreateAgent(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	session, err := stores.Chat.CreateSession(ctx, "alice", cfg.ID, "t")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := stores.Chat.GetSummary(ctx, session.ID); !apperr.IsKind(err, apperr.NotFound) {
		t.Errorf("missing summary error = %v, want NotFound", err)
	}

	for _, count := range []int{10, 20} {
		if err := stores.Chat.SaveSummary(ctx, &store.ChatSummary{
			SessionID:    session.ID,
			Text:         "summary",
			MessageCount: count,
		}); err != nil {
			t.Fatalf("SaveSummary(%d): %v", count, err)
		}
	}

	sum, err := stores.Chat.GetSummary(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.MessageCount != 20 {
		t.Errorf("MessageCount = %d, want 20", sum.MessageCount)
	}
}

func TestDeleteCascades(t *testing.T) {
	stores := openTestStores(t)
	ctx := context.Background()

	cfg := testAgent("Cascade")
	if err := stores.Agents.CreateAgent(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	session, err := stores.Chat.CreateSession(ctx, "alice", cfg.ID, "t")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stores.Chat.AddMessage(ctx, &store.ChatMessage{
		ID:        store.NewID(),
		SessionID: session.ID,
		Role:      store.RoleUser,
		Content:   store.TextContent("hi"),
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := stores.Chat.SaveSummary(ctx, &store.ChatSummary{SessionID: session.ID, Text: "s", MessageCount: 1}); err != nil {
		t.Fatal(err)
	}

	if err := stores.Agents.DeleteAgent(ctx, cfg.ID); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}

	if _, err := stores.Chat.GetSession(ctx, session.ID); !apperr.IsKind(err, apperr.NotFound) {
		t.Errorf("session survived agent delete: %v", err)
	}
	msgs, err := stores.Chat.GetMessages(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("%d messages survived cascade", len(msgs))
	}
	if _, err := stores.Chat.GetSummary(ctx, session.ID); !apperr.IsKind(err, apperr.NotFound) {
		t.Errorf("summary survived cascade: %v", err)
	}
}
