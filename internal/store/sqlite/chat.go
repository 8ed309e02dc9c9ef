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

// defaultSessionLimit bounds unpaginated session listings.
const defaultSessionLimit = 100

// ChatStore implements store.ChatStore backed by SQLite.
type ChatStore struct {
	db *sql.DB
}

// NewChatStore creates a SQLite chat store.
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
		`UPDATE agents SET last_used = ?, total_sessions = total_sessions + 1 WHERE id = ?`,
		encodeTime(now), agentID.String())
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "bump agent stats", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.Newf(apperr.NotFound, "agent %s not found", agentID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, user_id, agent_id, title, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID.String(), session.UserID, session.AgentID.String(), session.Title,
		session.IsActive, encodeTime(session.CreatedAt), encodeTime(session.UpdatedAt)); err != nil {
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
		 FROM chat_sessions WHERE id = ?`, id.String())
	return scanSession(row)
}

func (s *ChatStore) ListSessions(ctx context.Context, opts store.ListSessionsOpts) ([]*store.ChatSession, error) {
	query := `SELECT id, user_id, agent_id, title, is_active, created_at, updated_at
		FROM chat_sessions WHERE 1=1`
	var args []any

	if opts.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if opts.AgentID != uuid.Nil {
		query += " AND agent_id = ?"
		args = append(args, opts.AgentID.String())
	}
	if opts.ActiveOnly {
		query += " AND is_active"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

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
	set := []string{"updated_at = ?"}
	args := []any{encodeTime(time.Now().UTC())}

	if upd.Title != nil {
		set = append(set, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.IsActive != nil {
		set = append(set, "is_active = ?")
		args = append(args, *upd.IsActive)
	}
	args = append(args, id.String())

	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "update session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.Newf(apperr.NotFound, "session %s not found", id)
	}
	return s.GetSession(ctx, id)
}

func (s *ChatStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id.String())
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

	var sessionID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM chat_sessions WHERE id = ?`, msg.SessionID.String()).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return 0, apperr.Newf(apperr.NotFound, "session %s not found", msg.SessionID)
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "check session", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, sender_type, message_type, content, is_partial, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID.String(), msg.SessionID.String(), string(msg.Role), string(msg.Content.Kind),
		string(content), msg.IsPartial, encodeTime(msg.Timestamp)); err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "insert message", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`,
		encodeTime(msg.Timestamp), msg.SessionID.String()); err != nil {
		return 0, apperr.Wrap(apperr.StoreError, "touch session", err)
	}

	var nonPartial int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = ? AND NOT is_partial`,
		msg.SessionID.String()).Scan(&nonPartial); err != nil {
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
		 FROM chat_messages WHERE session_id = ? ORDER BY created_at, id`, sessionID.String())
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "get messages", err)
	}
	defer rows.Close()

	var msgs []*store.ChatMessage
	for rows.Next() {
		var msg store.ChatMessage
		var id, sid, role, content, createdAt string
		if err := rows.Scan(&id, &sid, &role, &content, &msg.IsPartial, &createdAt); err != nil {
			return nil, apperr.Wrap(apperr.StoreError, "scan message", err)
		}
		msg.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, apperr.Wrap(apperr.StoreError, "parse message id", err)
		}
		msg.SessionID, err = uuid.Parse(sid)
		if err != nil {
			return nil, apperr.Wrap(apperr.StoreError, "parse session id", err)
		}
		msg.Role = store.Role(role)
		msg.Timestamp = decodeTime(createdAt)
		if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
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
	now := encodeTime(time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_summaries (session_id, summary, message_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE
		 SET summary = excluded.summary, message_count = excluded.message_count, updated_at = excluded.updated_at`,
		sum.SessionID.String(), sum.Text, sum.MessageCount, now, now)
	if err != nil {
		return apperr.Wrap(apperr.StoreError, "save summary", err)
	}
	return nil
}

func (s *ChatStore) GetSummary(ctx context.Context, sessionID uuid.UUID) (*store.ChatSummary, error) {
	var sum store.ChatSummary
	var sid, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, summary, message_count, created_at, updated_at
		 FROM chat_summaries WHERE session_id = ?`, sessionID.String()).
		Scan(&sid, &sum.Text, &sum.MessageCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "no summary for session %s", sessionID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "get summary", err)
	}
	sum.SessionID, err = uuid.Parse(sid)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "parse session id", err)
	}
	sum.CreatedAt = decodeTime(createdAt)
	sum.UpdatedAt = decodeTime(updatedAt)
	return &sum, nil
}

func scanSession(row rowScanner) (*store.ChatSession, error) {
	var session store.ChatSession
	var id, agentID, createdAt, updatedAt string
	err := row.Scan(&id, &session.UserID, &agentID, &session.Title,
		&session.IsActive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "scan session", err)
	}
	session.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "parse session id", err)
	}
	session.AgentID, err = uuid.Parse(agentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreError, "parse agent id", err)
	}
	session.CreatedAt = decodeTime(createdAt)
	session.UpdatedAt = decodeTime(updatedAt)
	return &session, nil
}
