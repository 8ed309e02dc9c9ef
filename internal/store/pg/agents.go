package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/store"
)

// AgentStore implements store.AgentStore backed by Postgres.
type AgentStore struct {
	db *sql.DB
}

// NewAgentStore creates a Postgres agent store.
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		cfg.ID, cfg.UserID, cfg.Name, cfg.ModelProvider, settings, cfg.System,
		marshalStrings(cfg.Bio), marshalStrings(cfg.Lore), marshalStrings(cfg.Knowledge),
		nullJSON(cfg.MessageExamples), nullJSON(cfg.Style),
		cfg.TotalSessions, cfg.CreatedAt, cfg.UpdatedAt,
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
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
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
		`SELECT `+agentColumns+` FROM agents WHERE name = $1`, name)
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
	return s.list(ctx, `SELECT `+agentColumns+` FROM agents WHERE user_id = $1 ORDER BY name`, userID)
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
		`UPDATE agents SET name = $2, model_provider = $3, settings = $4, system_prompt = $5,
			bio = $6, lore = $7, knowledge = $8, message_examples = $9, style = $10, updated_at = $11
		 WHERE id = $1`,
		cfg.ID, cfg.Name, cfg.ModelProvider, settings, cfg.System,
		marshalStrings(cfg.Bio), marshalStrings(cfg.Lore), marshalStrings(cfg.Knowledge),
		nullJSON(cfg.MessageExamples), nullJSON(cfg.Style), cfg.UpdatedAt,
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
		`DELETE FROM agent_tool_association WHERE agent_id = $1`, cfg.ID); err != nil {
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
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
		`INSERT INTO tools (id, name, description, config) VALUES ($1, $2, $3, $4)`,
		tool.ID, tool.Name, tool.Description, nullJSON(tool.Config))
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
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
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
		var config sql.NullString
		if err := rows.Scan(&tool.ID, &tool.Name, &tool.Description, &config); err != nil {
			return nil, apperr.Wrap(apperr.StoreError, "scan tool", err)
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
		`SELECT tool_id, is_enabled FROM agent_tool_association WHERE agent_id = $1`, cfg.ID)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "load agent tools", err)
	}
	defer rows.Close()

	cfg.Tools = nil
	for rows.Next() {
		var binding store.AgentToolBinding
		if err := rows.Scan(&binding.ToolID, &binding.IsEnabled); err != nil {
			return apperr.Wrap(apperr.StoreError, "scan agent tool", err)
		}
		cfg.Tools = append(cfg.Tools, binding)
	}
	return rows.Err()
}

func insertBindings(ctx context.Context, tx *sql.Tx, agentID uuid.UUID, bindings []store.AgentToolBinding) error {
	for _, b := range bindings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_tool_association (agent_id, tool_id, is_enabled) VALUES ($1, $2, $3)`,
			agentID, b.ToolID, b.IsEnabled); err != nil {
			return apperr.Wrap(apperr.StoreError, "insert agent tool", err)
		}
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*store.AgentConfig, error) {
	var cfg store.AgentConfig
	var settings []byte
	var bio, lore, knowledge, examples, style sql.NullString
	var lastUsed sql.NullTime

	err := row.Scan(
		&cfg.ID, &cfg.UserID, &cfg.Name, &cfg.ModelProvider, &settings, &cfg.System,
		&bio, &lore, &knowledge, &examples, &style,
		&lastUsed, &cfg.TotalSessions, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "agent not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "scan agent", err)
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &cfg.Settings); err != nil {
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
	if lastUsed.Valid {
		t := lastUsed.Time
		cfg.LastUsed = &t
	}
	return &cfg, nil
}

func marshalStrings(values []string) any {
	if values == nil {
		return nil
	}
	data, _ := json.Marshal(values)
	return data
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
	return []byte(raw)
}

// isUniqueViolation matches the Postgres unique_violation SQLSTATE.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
