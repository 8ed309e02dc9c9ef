package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/store"
)

// AgentStore implements store.AgentStore backed by SQLite.
type AgentStore struct {
	db *sql.DB
}

// NewAgentStore creates a SQLite agent store.
func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

const agentColumns = `id, user_id, name, model_provider, settings, system_prompt,
	bio, lore, knowledge, message_examples, style,
	last_used, total_sessions, created_at, updated_at`

func (s *AgentStore) CreateAgent(ctx context.Context, cfg *store.AgentConfig) error {
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "marshal agent settings", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agents (id, user_id, name, model_provider, settings, system_prompt,
			bio, lore, knowledge, message_examples, style, total_sessions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID.String(), cfg.UserID, cfg.Name, cfg.ModelProvider, string(settings), cfg.System,
		marshalStrings(cfg.Bio), marshalStrings(cfg.Lore), marshalStrings(cfg.Knowledge),
		nullJSON(cfg.MessageExamples), nullJSON(cfg.Style),
		cfg.TotalSessions, encodeTime(cfg.CreatedAt), encodeTime(cfg.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.Conflict, "agent name %q already exists", cfg.Name)
		}
		return apperr.Wrap(apperr.StoreError, "insert agent", err)
	}

	if err := insertBindings(ctx, tx, cfg.ID, cfg.Tools); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.StoreError, "commit agent", err)
	}
	return nil
}

func (s *AgentStore) GetAgent(ctx context.Context, id uuid.UUID) (*store.AgentConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id.String())
	cfg, err := scanAgent(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadBindings(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *AgentStore) GetAgentByName(ctx context.Context, name string) (*store.AgentConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE name = ?`, name)
	cfg, err := scanAgent(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadBindings(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *AgentStore) ListAgents(ctx context.Context) ([]*store.AgentConfig, error) {
	return s.list(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name`)
}

func (s *AgentStore) ListAgentsForUser(ctx context.Context, userID string) ([]*store.AgentConfig, error) {
	return s.list(ctx, `SELECT `+agentColumns+` FROM agents WHERE user_id = ? ORDER BY name`, userID)
}

func (s *AgentStore) list(ctx context.Context, query string, args ...any) ([]*store.AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "list agents", err)
	}
	defer rows.Close()

	var configs []*store.AgentConfig
	for rows.Next() {
		cfg, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "list agents", err)
	}
	for _, cfg := range configs {
		if err := s.loadBindings(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return configs, nil
}

func (s *AgentStore) UpdateAgent(ctx context.Context, cfg *store.AgentConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "marshal agent settings", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE agents SET name = ?, model_provider = ?, settings = ?, system_prompt = ?,
			bio = ?, lore = ?, knowledge = ?, message_examples = ?, style = ?, updated_at = ?
		 WHERE id = ?`,
		cfg.Name, cfg.ModelProvider, string(settings), cfg.System,
		marshalStrings(cfg.Bio), marshalStrings(cfg.Lore), marshalStrings(cfg.Knowledge),
		nullJSON(cfg.MessageExamples), nullJSON(cfg.Style), encodeTime(cfg.UpdatedAt),
		cfg.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Newf(apperr.Conflict, "agent name %q already exists", cfg.Name)
		}
		return apperr.Wrap(apperr.StoreError, "update agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.NotFound, "agent %s not found", cfg.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM agent_tool_association WHERE agent_id = ?`, cfg.ID.String()); err != nil {
		return apperr.Wrap(apperr.StoreError, "clear agent tools", err)
	}
	if err := insertBindings(ctx, tx, cfg.ID, cfg.Tools); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.StoreError, "commit agent update", err)
	}
	return nil
}

func (s *AgentStore) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id.String())
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "delete agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.NotFound, "agent %s not found", id)
	}
	return nil
}

func (s *AgentStore) CreateTool(ctx context.Context, tool *store.Tool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tools (id, name, description, config) VALUES (?, ?, ?, ?)`,
		tool.ID.String(), tool.Name, tool.Description, nullJSON(tool.Config))
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "insert tool", err)
	}
	return nil
}

func (s *AgentStore) GetToolsByIDs(ctx context.Context, ids []uuid.UUID) ([]*store.Tool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	query := `SELECT id, name, description, config FROM tools WHERE id IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY name`
	return s.queryTools(ctx, query, args...)
}

func (s *AgentStore) ListTools(ctx context.Context) ([]*store.Tool, error) {
	return s.queryTools(ctx, `SELECT id, name, description, config FROM tools ORDER BY name`)
}

func (s *AgentStore) queryTools(ctx context.Context, query string, args ...any) ([]*store.Tool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "query tools", err)
	}
	defer rows.Close()

	var tools []*store.Tool
	for rows.Next() {
		var tool store.Tool
		var id string
		var config sql.NullString
		if err := rows.Scan(&id, &tool.Name, &tool.Description, &config); err != nil {
			return nil, apperr.Wrap(apperr.StoreError, "scan tool", err)
		}
		tool.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, apperr.Wrap(apperr.StoreError, "parse tool id", err)
		}
		if config.Valid {
			tool.Config = json.RawMessage(config.String)
		}
		tools = append(tools, &tool)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "query tools", err)
	}
	return tools, nil
}

func (s *AgentStore) loadBindings(ctx context.Context, cfg *store.AgentConfig) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_id, is_enabled FROM agent_tool_association WHERE agent_id = ?`,
		cfg.ID.String())
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "load agent tools", err)
	}
	defer rows.Close()

	cfg.Tools = nil
	for rows.Next() {
		var toolID string
		var binding store.AgentToolBinding
		if err := rows.Scan(&toolID, &binding.IsEnabled); err != nil {
			return apperr.Wrap(apperr.StoreError, "scan agent tool", err)
		}
		binding.ToolID, err = uuid.Parse(toolID)
		if err != nil {
			return apperr.Wrap(apperr.StoreError, "parse tool id", err)
		}
		cfg.Tools = append(cfg.Tools, binding)
	}
	return rows.Err()
}

func insertBindings(ctx context.Context, tx *sql.Tx, agentID uuid.UUID, bindings []store.AgentToolBinding) error {
	for _, b := range bindings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_tool_association (agent_id, tool_id, is_enabled) VALUES (?, ?, ?)`,
			agentID.String(), b.ToolID.String(), b.IsEnabled); err != nil {
			return apperr.Wrap(apperr.StoreError, "insert agent tool", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*store.AgentConfig, error) {
	var cfg store.AgentConfig
	var id, settings, createdAt, updatedAt string
	var bio, lore, knowledge, examples, style, lastUsed sql.NullString

	err := row.Scan(
		&id, &cfg.UserID, &cfg.Name, &cfg.ModelProvider, &settings, &cfg.System,
		&bio, &lore, &knowledge, &examples, &style,
		&lastUsed, &cfg.TotalSessions, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "agent not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "scan agent", err)
	}

	cfg.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "parse agent id", err)
	}
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &cfg.Settings); err != nil {
			return nil, apperr.Wrap(apperr.StoreError, "unmarshal agent settings", err)
		}
	}
	cfg.Bio = unmarshalStrings(bio)
	cfg.Lore = unmarshalStrings(lore)
	cfg.Knowledge = unmarshalStrings(knowledge)
	if examples.Valid {
		cfg.MessageExamples = json.RawMessage(examples.String)
	}
	if style.Valid {
		cfg.Style = json.RawMessage(style.String)
	}
	if lastUsed.Valid && lastUsed.String != "" {
		t := decodeTime(lastUsed.String)
		cfg.LastUsed = &t
	}
	cfg.CreatedAt = decodeTime(createdAt)
	cfg.UpdatedAt = decodeTime(updatedAt)
	return &cfg, nil
}

func marshalStrings(values []string) any {
	if values == nil {
		return nil
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func unmarshalStrings(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var values []string
	_ = json.Unmarshal([]byte(ns.String), &values)
	return values
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
