package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/store"
)

// defaultSessionLimit bounds unpaginated session listings.
const defaultSessionLimit = 100

// ChatStore implements store.ChatStore backed by Postgres.
type ChatStore struct {
	db *sql.DB
}

// NewChatStore creates a Postgres chat store.
func NewChatStore(db *sql.DB) *ChatStore {
	return &ChatStore{db: db}
}

func (s *ChatStore) CreateSession(ctx context.Context, userID string, agentID uuid.UUID, title string) (*store.ChatSession, error) {
	now := time.Now().UTC()
	session := &store.ChatSession{
		ID:        store.NewID(),
		UserID:    userID,
		AgentID:   agentID,
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "begin tx", err)
	}
	defer tx.Rollback()

	// The agent stats bump doubles as the existence check.
	res, err := tx.ExecContext(ctx,
		`UPDATE agents SET last_used = $2, total_sessions = total_sessions + 1 WHERE id = $1`,
		agentID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "bump agent stats", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.Newf(apperr.NotFound, "agent %s not found", agentID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, user_id, agent_id, title, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.UserID, session.AgentID, session.Title, session.IsActive,
		session.CreatedAt, session.UpdatedAt); err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "insert session", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "commit session", err)
	}
	return session, nil
}

func (s *ChatStore) GetSession(ctx context.Context, id uuid.UUID) (*store.ChatSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, agent_id, title, is_active, created_at, updated_at
		 FROM chat_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *ChatStore) ListSessions(ctx context.Context, opts store.ListSessionsOpts) ([]*store.ChatSession, error) {
	query := `SELECT id, user_id, agent_id, title, is_active, created_at, updated_at
		FROM chat_sessions WHERE 1=1`
	var args []any

	if opts.UserID != "" {
		args = append(args, opts.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if opts.AgentID != uuid.Nil {
		args = append(args, opts.AgentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if opts.ActiveOnly {
		query += " AND is_active"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "list sessions", err)
	}
	defer rows.Close()

	var sessions []*store.ChatSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "list sessions", err)
	}
	return sessions, nil
}

func (s *ChatStore) UpdateSession(ctx context.Context, id uuid.UUID, upd store.SessionUpdate) (*store.ChatSession, error) {
	set := "updated_at = $2"
	args := []any{id, time.Now().UTC()}

	if upd.Title != nil {
		args = append(args, *upd.Title)
		set += fmt.Sprintf(", title = $%d", len(args))
	}
	if upd.IsActive != nil {
		args = append(args, *upd.IsActive)
		set += fmt.Sprintf(", is_active = $%d", len(args))
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE chat_sessions SET `+set+` WHERE id = $1
		 RETURNING id, user_id, agent_id, title, is_active, created_at, updated_at`,
		args...)
	return scanSession(row)
}

func (s *ChatStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.NotFound, "session %s not found", id)
	}
	return nil
}

func (s *ChatStore) AddMessage(ctx context.Context, msg *store.ChatMessage) (int, error) {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "marshal message content", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "begin tx", err)
	}
	defer tx.Rollback()

	// Lock the session row so the non-partial count is consistent under
	// concurrent writers.
	var sessionID uuid.UUID
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`, msg.SessionID).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return 0, apperr.Newf(apperr.NotFound, "session %s not found", msg.SessionID)
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "lock session", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, sender_type, message_type, content, is_partial, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.SessionID, string(msg.Role), string(msg.Content.Kind), content,
		msg.IsPartial, msg.Timestamp); err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "insert message", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = $2 WHERE id = $1`,
		msg.SessionID, msg.Timestamp); err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "touch session", err)
	}

	var nonPartial int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = $1 AND NOT is_partial`,
		msg.SessionID).Scan(&nonPartial); err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "count messages", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "commit message", err)
	}
	return nonPartial, nil
}

func (s *ChatStore) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*store.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sender_type, content, is_partial, created_at
		 FROM chat_messages WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "get messages", err)
	}
	defer rows.Close()

	var msgs []*store.ChatMessage
	for rows.Next() {
		var msg store.ChatMessage
		var role string
		var content []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &content, &msg.IsPartial, &msg.Timestamp); err != nil {
			return nil, apperr.Wrap(apperr.StoreError, "scan message", err)
		}
		msg.Role = store.Role(role)
		if err := json.Unmarshal(content, &msg.Content); err != nil {
			return nil, apperr.Wrap(apperr.StoreError, "unmarshal message content", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "get messages", err)
	}
	return msgs, nil
}

func (s *ChatStore) SaveSummary(ctx context.Context, sum *store.ChatSummary) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_summaries (session_id, summary, message_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (session_id) DO UPDATE
		 SET summary = EXCLUDED.summary, message_count = EXCLUDED.message_count, updated_at = EXCLUDED.updated_at`,
		sum.SessionID, sum.Text, sum.MessageCount, now)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "save summary", err)
	}
	return nil
}

func (s *ChatStore) GetSummary(ctx context.Context, sessionID uuid.UUID) (*store.ChatSummary, error) {
	var sum store.ChatSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, summary, message_count, created_at, updated_at
		 FROM chat_summaries WHERE session_id = $1`, sessionID).
		Scan(&sum.SessionID, &sum.Text, &sum.MessageCount, &sum.CreatedAt, &sum.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "no summary for session %s", sessionID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "get summary", err)
	}
	return &sum, nil
}

func scanSession(row rowScanner) (*store.ChatSession, error) {
	var session store.ChatSession
	err := row.Scan(&session.ID, &session.UserID, &session.AgentID, &session.Title,
		&session.IsActive, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "scan session", err)
	}
	return &session, nil
}
