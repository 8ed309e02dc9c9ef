// Package sqlite implements the storage interfaces on an embedded SQLite
// database for standalone deployments. The schema is applied on open; no
// external migration step is needed.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nimbusworks/aviary/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    name             TEXT NOT NULL UNIQUE,
    model_provider   TEXT NOT NULL,
    settings         TEXT NOT NULL DEFAULT '{}',
    system_prompt    TEXT NOT NULL DEFAULT '',
    bio              TEXT,
    lore             TEXT,
    knowledge        TEXT,
    message_examples TEXT,
    style            TEXT,
    last_used        TEXT,
    total_sessions   INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tools (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    config      TEXT
);

CREATE TABLE IF NOT EXISTS agent_tool_association (
    agent_id   TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    tool_id    TEXT NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
    is_enabled INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (agent_id, tool_id)
);

CREATE TABLE IF NOT EXISTS chat_sessions (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    agent_id   TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    title      TEXT NOT NULL DEFAULT '',
    is_active  INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS chat_messages (
    id           TEXT PRIMARY KEY,
    session_id   TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    sender_type  TEXT NOT NULL,
    message_type TEXT NOT NULL,
    content      TEXT NOT NULL,
    is_partial   INTEGER NOT NULL DEFAULT 0,
    created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS chat_summaries (
    session_id    TEXT PRIMARY KEY REFERENCES chat_sessions(id) ON DELETE CASCADE,
    summary       TEXT NOT NULL,
    message_count INTEGER NOT NULL,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);
`

// OpenDB opens (and creates, if needed) the SQLite database at path.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc/sqlite serialises writes; a single connection avoids
	// SQLITE_BUSY under concurrent transactions.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by one SQLite database.
func NewStores(db *sql.DB) store.Stores {
	return store.Stores{
		Agents: NewAgentStore(db),
		Chat:   NewChatStore(db),
	}
}

// Timestamps are stored as fixed-width RFC3339 text so lexicographic and
// chronological order agree. RFC3339Nano trims trailing zeros and breaks
// that property.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
