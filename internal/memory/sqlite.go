package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const createTurnsSQL = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    pii_redacted    INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_created ON conversation_turns(created_at);
`

// Fixed-width so lexical order matches time order.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps conversation history in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultSQLitePath returns ~/.local/share/heygemini/history.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "heygemini", "history.db"), nil
}

// NewSQLiteStore opens (or creates) the database at dbPath. ":memory:" is
// accepted for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(createTurnsSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, conversation_id, role, content, pii_redacted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ConversationID,
		record.Role,
		record.Content,
		record.PIIRedacted,
		record.CreatedAt.UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentContext(ctx context.Context, conversationID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `SELECT id, conversation_id, role, content, pii_redacted, created_at FROM conversation_turns`
	if conversationID == "" {
		rows, err = s.db.QueryContext(ctx, cols+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, conversationID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query recent context: %w", err)
	}
	defer rows.Close()

	items := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var (
			r         TurnRecord
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.Role, &r.Content, &r.PIIRedacted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan context row: %w", err)
		}
		at, err := time.Parse(sqliteTimeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at of turn %s: %w", r.ID, err)
		}
		r.CreatedAt = at
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate context rows: %w", err)
	}
	reverse(items)
	return items, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
