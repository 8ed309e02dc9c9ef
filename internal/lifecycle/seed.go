package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/titanous/json5"

	"github.com/nimbusworks/aviary/internal/store"
)

// SeedUserID owns the default agent created on first boot.
const SeedUserID = "system"

// seedDefaultAgent creates the default character when the store holds no
// agents at all. The seed agent is excluded from platform routing.
func (m *Manager) seedDefaultAgent(ctx context.Context) error {
	if m.defaultCharacterPath == "" {
		return nil
	}

	existing, err := m.agents.ListAgents(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		// Remember the seed name for routing even across restarts.
		if cfg, err := m.loadCharacterFile(); err == nil {
			m.defaultAgentName = cfg.Name
		}
		return nil
	}

	cfg, err := m.loadCharacterFile()
	if err != nil {
		return fmt.Errorf("load default character: %w", err)
	}
	cfg.ID = store.NewID()
	cfg.UserID = SeedUserID

	if err := m.agents.CreateAgent(ctx, cfg); err != nil {
		return fmt.Errorf("seed default agent: %w", err)
	}
	m.defaultAgentName = cfg.Name
	slog.Info("lifecycle.agent.seeded", "agent", cfg.Name, "id", cfg.ID)
	return nil
}

// loadCharacterFile parses the default character definition. JSON5 keeps
// the file human-editable (comments, trailing commas).
func (m *Manager) loadCharacterFile() (*store.AgentConfig, error) {
	data, err := os.ReadFile(m.defaultCharacterPath)
	if err != nil {
		return nil, err
	}
	var cfg store.AgentConfig
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.defaultCharacterPath, err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%s: character name is required", m.defaultCharacterPath)
	}
	return &cfg, nil
}
