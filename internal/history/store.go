// Package history persists conversation turns to SQLite so that semantic
// memory can be rehydrated across process restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chorus/internal/logging"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	role            TEXT NOT NULL,
	display_content TEXT NOT NULL,
	recall_content  TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_created ON conversation(created_at);
`

// Record is one persisted conversation turn.
type Record struct {
	ID             int64
	Role           string
	DisplayContent string
	RecallContent  string
	CreatedAt      time.Time
}

// Store is a SQLite-backed conversation log.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the conversation database at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// modernc sqlite is not safe for concurrent writers on one connection pool
	// beyond what SQLite itself serializes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	logging.History("Opened conversation history at %s", path)
	return &Store{db: db, path: path}, nil
}

// Append records one conversation turn.
func (s *Store) Append(ctx context.Context, role, displayContent, recallContent string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation (role, display_content, recall_content, created_at) VALUES (?, ?, ?, ?)`,
		role, displayContent, recallContent, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}
	logging.HistoryDebug("Appended %s turn (%d display chars)", role, len(displayContent))
	return nil
}

// LoadAll returns every persisted turn in insertion order.
func (s *Store) LoadAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, display_content, recall_content, created_at FROM conversation ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Role, &r.DisplayContent, &r.RecallContent, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	logging.History("Loaded %d conversation records", len(records))
	return records, nil
}

// Clear deletes every persisted turn.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	logging.History("Cleared conversation history")
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
