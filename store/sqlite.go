package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chat-relay/types"
)

// SQLiteStore persists transcripts in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating messages table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store. All messages of one call land in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msgs ...types.HistoryMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, msg := range msgs {
		if _, err := stmt.ExecContext(ctx, sessionID, msg.Role, msg.Content, now); err != nil {
			return fmt.Errorf("inserting %s message: %w", msg.Role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Records implements Store
func (s *SQLiteStore) Records(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	query := `SELECT session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			created int64
		)
		if err := rows.Scan(&r.SessionID, &r.Role, &r.Content, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	// Rows come newest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
