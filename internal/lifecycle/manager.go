// Package lifecycle owns agent materialisation: loading configurations,
// connecting tool federations, wiring credentials, and tearing everything
// down again.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nimbusworks/aviary/internal/agent"
	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/providers"
	"github.com/nimbusworks/aviary/internal/store"
	"github.com/nimbusworks/aviary/internal/toolfed"
)

// Instance is a materialised agent: its persisted config plus the live
// runtime and tool connections backing it.
type Instance struct {
	Config        *store.AgentConfig
	Runtime       *agent.Runtime
	TelegramBotID string
	DiscordBotID  string

	federation *toolfed.Federation
}

// Close releases the instance's tool server connections.
func (i *Instance) Close() {
	if i.federation != nil {
		i.federation.Close()
	}
}

// Manager keeps the registry of materialised agents and serialises their
// construction.
type Manager struct {
	agents  store.AgentStore
	factory *providers.Factory

	defaultCharacterPath string
	defaultAgentName     string

	mu        sync.RWMutex
	instances map[uuid.UUID]*Instance
	group     singleflight.Group
}

// NewManager creates a lifecycle manager. defaultCharacterPath points at
// the character file seeded when the store holds no agents; it may be empty
// to disable seeding.
func NewManager(agents store.AgentStore, factory *providers.Factory, defaultCharacterPath string) *Manager {
	return &Manager{
		agents:               agents,
		factory:              factory,
		defaultCharacterPath: defaultCharacterPath,
		instances:            make(map[uuid.UUID]*Instance),
	}
}

// Startup seeds the default agent when the store is empty, then
// materialises every stored agent. Individual failures are logged; the
// platform starts with whatever came up.
func (m *Manager) Startup(ctx context.Context) error {
	if err := m.seedDefaultAgent(ctx); err != nil {
		return err
	}

	configs, err := m.agents.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if _, err := m.Get(ctx, cfg.ID); err != nil {
			slog.Warn("lifecycle.agent.startup_failed", "agent", cfg.Name, "id", cfg.ID, "error", err)
		}
	}
	slog.Info("lifecycle.startup_complete", "agents", len(configs), "materialised", m.Count())
	return nil
}

// Count returns the number of materialised instances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// Get returns the materialised instance for an agent, building it on first
// use. Concurrent calls for the same agent share one materialisation.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Instance, error) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if ok {
		return inst, nil
	}

	v, err, _ := m.group.Do(id.String(), func() (any, error) {
		m.mu.RLock()
		existing, ok := m.instances[id]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		cfg, err := m.agents.GetAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		built, err := m.materialize(ctx, cfg)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.instances[id] = built
		m.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

// Create validates and persists a new agent, then materialises it. A name
// already in use is a conflict.
func (m *Manager) Create(ctx context.Context, cfg *store.AgentConfig) (*Instance, error) {
	if cfg.Name == "" {
		return nil, apperr.New(apperr.Validation, "agent name is required")
	}
	if cfg.ModelProvider == "" {
		return nil, apperr.New(apperr.Validation, "model provider is required")
	}
	if _, err := m.factory.Get(cfg.ModelProvider, ""); err != nil {
		return nil, err
	}

	if existing, err := m.agents.GetAgentByName(ctx, cfg.Name); err == nil && existing != nil {
		return nil, apperr.Newf(apperr.Conflict, "agent name %q already exists", cfg.Name)
	}

	if cfg.ID == uuid.Nil {
		cfg.ID = store.NewID()
	}
	if err := m.agents.CreateAgent(ctx, cfg); err != nil {
		return nil, err
	}
	slog.Info("lifecycle.agent.created", "agent", cfg.Name, "id", cfg.ID, "user", cfg.UserID)
	return m.Get(ctx, cfg.ID)
}

// Update persists config changes and rebuilds the instance. Only the owner
// may update an agent.
func (m *Manager) Update(ctx context.Context, userID string, cfg *store.AgentConfig) (*Instance, error) {
	current, err := m.agents.GetAgent(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, apperr.New(apperr.Forbidden, "agent belongs to another user")
	}
	if cfg.Name != current.Name {
		if existing, err := m.agents.GetAgentByName(ctx, cfg.Name); err == nil && existing != nil && existing.ID != cfg.ID {
			return nil, apperr.Newf(apperr.Conflict, "agent name %q already exists", cfg.Name)
		}
	}
	cfg.UserID = current.UserID
	if err := m.agents.UpdateAgent(ctx, cfg); err != nil {
		return nil, err
	}

	m.evict(cfg.ID)
	slog.Info("lifecycle.agent.updated", "agent", cfg.Name, "id", cfg.ID)
	return m.Get(ctx, cfg.ID)
}

// Delete removes an agent and its sessions. Only the owner may delete.
func (m *Manager) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	cfg, err := m.agents.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if cfg.UserID != userID {
		return apperr.New(apperr.Forbidden, "agent belongs to another user")
	}
	if err := m.agents.DeleteAgent(ctx, id); err != nil {
		return err
	}
	m.evict(id)
	slog.Info("lifecycle.agent.deleted", "agent", cfg.Name, "id", id)
	return nil
}

// evict closes and drops a materialised instance, if present.
func (m *Manager) evict(id uuid.UUID) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	delete(m.instances, id)
	m.mu.Unlock()
	if ok {
		inst.Close()
	}
}

// Shutdown tears down every materialised instance.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	instances := m.instances
	m.instances = make(map[uuid.UUID]*Instance)
	m.mu.Unlock()

	for _, inst := range instances {
		inst.Close()
	}
	slog.Info("lifecycle.shutdown_complete", "agents", len(instances))
}

// snapshot returns the current instances without holding the lock.
func (m *Manager) snapshot() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}
