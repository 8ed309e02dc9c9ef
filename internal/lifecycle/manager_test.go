package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/agent"
	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/providers"
	"github.com/nimbusworks/aviary/internal/store"
	"github.com/nimbusworks/aviary/internal/toolfed"
)

// memAgentStore is an in-memory AgentStore for lifecycle tests.
type memAgentStore struct {
	mu        sync.Mutex
	agents    map[uuid.UUID]*store.AgentConfig
	tools     map[uuid.UUID]*store.Tool
	getCalls  atomic.Int32
	getDelay  time.Duration
}

func newMemAgentStore() *memAgentStore {
	return &memAgentStore{
		agents: make(map[uuid.UUID]*store.AgentConfig),
		tools:  make(map[uuid.UUID]*store.Tool),
	}
}

func (m *memAgentStore) CreateAgent(_ context.Context, cfg *store.AgentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[cfg.ID] = cfg
	return nil
}

func (m *memAgentStore) GetAgent(_ context.Context, id uuid.UUID) (*store.AgentConfig, error) {
	m.getCalls.Add(1)
	if m.getDelay > 0 {
		time.Sleep(m.getDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.agents[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "agent %s not found", id)
	}
	return cfg, nil
}

func (m *memAgentStore) GetAgentByName(_ context.Context, name string) (*store.AgentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range m.agents {
		if cfg.Name == name {
			return cfg, nil
		}
	}
	return nil, apperr.Newf(apperr.NotFound, "agent %q not found", name)
}

func (m *memAgentStore) ListAgents(context.Context) ([]*store.AgentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.AgentConfig, 0, len(m.agents))
	for _, cfg := range m.agents {
		out = append(out, cfg)
	}
	return out, nil
}

func (m *memAgentStore) ListAgentsForUser(ctx context.Context, userID string) ([]*store.AgentConfig, error) {
	all, _ := m.ListAgents(ctx)
	var out []*store.AgentConfig
	for _, cfg := range all {
		if cfg.UserID == userID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (m *memAgentStore) UpdateAgent(_ context.Context, cfg *store.AgentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[cfg.ID] = cfg
	return nil
}

func (m *memAgentStore) DeleteAgent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
	return nil
}

func (m *memAgentStore) CreateTool(_ context.Context, tool *store.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[tool.ID] = tool
	return nil
}

func (m *memAgentStore) GetToolsByIDs(_ context.Context, ids []uuid.UUID) ([]*store.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Tool
	for _, id := range ids {
		if t, ok := m.tools[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memAgentStore) ListTools(context.Context) ([]*store.Tool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Tool, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, t)
	}
	return out, nil
}

func newTestManager(st store.AgentStore) *Manager {
	return NewManager(st, providers.NewFactory(providers.Config{}), "")
}

func agentCfg(name, userID string) *store.AgentConfig {
	return &store.AgentConfig{
		ID:            store.NewID(),
		UserID:        userID,
		Name:          name,
		ModelProvider: "groq",
		Settings:      store.AgentSettings{Model: "llama-3.3-70b"},
	}
}

func TestCreateValidation(t *testing.T) {
	m := newTestManager(newMemAgentStore())

	if _, err := m.Create(context.Background(), &store.AgentConfig{ModelProvider: "groq"}); !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("empty name: expected Validation, got %v", err)
	}
	if _, err := m.Create(context.Background(), &store.AgentConfig{Name: "x", ModelProvider: "frontier9000"}); !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("unknown provider: expected Validation, got %v", err)
	}
}

func TestCreateNameConflict(t *testing.T) {
	m := newTestManager(newMemAgentStore())
	ctx := context.Background()

	if _, err := m.Create(ctx, agentCfg("aria", "alice")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(ctx, agentCfg("aria", "bob")); !apperr.IsKind(err, apperr.Conflict) {
		t.Errorf("expected Conflict, got %v", err)
	}
}

func TestDeleteOwnerOnly(t *testing.T) {
	m := newTestManager(newMemAgentStore())
	ctx := context.Background()

	inst, err := m.Create(ctx, agentCfg("aria", "alice"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.Delete(ctx, "bob", inst.Config.ID); !apperr.IsKind(err, apperr.Forbidden) {
		t.Errorf("expected Forbidden for non-owner, got %v", err)
	}
	if err := m.Delete(ctx, "alice", inst.Config.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("instance not evicted after delete")
	}
	if _, err := m.Get(ctx, inst.Config.ID); !apperr.IsKind(err, apperr.NotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
}

func TestGetSharesMaterialisation(t *testing.T) {
	st := newMemAgentStore()
	st.getDelay = 20 * time.Millisecond
	m := newTestManager(st)

	cfg := agentCfg("aria", "alice")
	_ = st.CreateAgent(context.Background(), cfg)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Get(context.Background(), cfg.ID); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls := st.getCalls.Load(); calls != 1 {
		t.Errorf("GetAgent called %d times, want 1 shared materialisation", calls)
	}
	if m.Count() != 1 {
		t.Errorf("instance count = %d, want 1", m.Count())
	}
}

func TestSeedDefaultAgent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.character.json5")
	character := `{
	// default character seeded on first boot
	name: "DefaultBot",
	modelProvider: "groq",
	settings: { model: "llama-3.3-70b", temperature: 0.7, maxTokens: 4096 },
	system: "A friendly general assistant.",
}`
	if err := os.WriteFile(path, []byte(character), 0o644); err != nil {
		t.Fatal(err)
	}

	st := newMemAgentStore()
	m := NewManager(st, providers.NewFactory(providers.Config{}), path)

	if err := m.Startup(context.Background()); err != nil {
		t.Fatalf("startup: %v", err)
	}

	seeded, err := st.GetAgentByName(context.Background(), "DefaultBot")
	if err != nil {
		t.Fatalf("seed agent missing: %v", err)
	}
	if seeded.UserID != SeedUserID {
		t.Errorf("seed owner = %q, want %q", seeded.UserID, SeedUserID)
	}
	if m.defaultAgentName != "DefaultBot" {
		t.Errorf("default agent name = %q", m.defaultAgentName)
	}

	// A second startup must not seed again.
	m2 := NewManager(st, providers.NewFactory(providers.Config{}), path)
	if err := m2.Startup(context.Background()); err != nil {
		t.Fatalf("second startup: %v", err)
	}
	all, _ := st.ListAgents(context.Background())
	if len(all) != 1 {
		t.Errorf("agent count after restart = %d, want 1", len(all))
	}
}

// stubSendTool satisfies the platform send tool requirement in routing.
type stubSendTool struct{ name string }

func (s stubSendTool) Name() string              { return s.name }
func (s stubSendTool) Description() string       { return "send" }
func (s stubSendTool) ArgSchema() map[string]any { return nil }
func (s stubSendTool) Invoke(context.Context, map[string]any) (string, error) {
	return "ok", nil
}

func routableInstance(name, telegramBotID, discordBotID string, sendTools ...string) *Instance {
	set := toolfed.NewToolSet()
	for _, tool := range sendTools {
		set.Register(stubSendTool{name: tool})
	}
	return &Instance{
		Config:        &store.AgentConfig{ID: store.NewID(), Name: name},
		Runtime:       agent.New(agent.Config{AgentName: name, Tools: set}),
		TelegramBotID: telegramBotID,
		DiscordBotID:  discordBotID,
	}
}

func TestRoutePlatform(t *testing.T) {
	m := newTestManager(newMemAgentStore())
	m.defaultAgentName = "DefaultBot"

	// The default agent matches the bot id but must be skipped; "zed" has
	// the id but no send tool; "aria" is the proper target.
	for _, inst := range []*Instance{
		routableInstance("DefaultBot", "111", "", toolfed.ToolSendTelegram),
		routableInstance("zed", "111", ""),
		routableInstance("aria", "111", "", toolfed.ToolSendTelegram),
		routableInstance("bots", "222", "900", toolfed.ToolSendTelegram, toolfed.ToolSendDiscord),
	} {
		m.instances[inst.Config.ID] = inst
	}

	inst, err := m.RoutePlatform(PlatformTelegram, "111")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if inst.Config.Name != "aria" {
		t.Errorf("routed to %q, want aria", inst.Config.Name)
	}

	// Stable across repeated calls.
	for i := 0; i < 5; i++ {
		again, err := m.RoutePlatform(PlatformTelegram, "111")
		if err != nil || again.Config.Name != "aria" {
			t.Fatalf("routing unstable: %v %v", again, err)
		}
	}

	inst, err = m.RoutePlatform(PlatformDiscord, "900")
	if err != nil || inst.Config.Name != "bots" {
		t.Errorf("discord route = %v, %v", inst, err)
	}

	if _, err := m.RoutePlatform(PlatformTelegram, "999"); !apperr.IsKind(err, apperr.NotFound) {
		t.Errorf("expected NotFound for unknown bot id, got %v", err)
	}
	if _, err := m.RoutePlatform("matrix", "1"); !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected Validation for unknown platform, got %v", err)
	}
}
