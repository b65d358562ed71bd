package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS kernel_journal (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	event TEXT NOT NULL,
	module TEXT NOT NULL DEFAULT '',
	at INTEGER NOT NULL
)`

const (
	insertEntrySQL = `INSERT INTO kernel_journal (id, event, module, at) VALUES (?, ?, ?, ?)`
	recentSQL      = `SELECT id, event, module, at FROM kernel_journal ORDER BY seq DESC LIMIT ?`
)

// SQLiteSink stores entries in the kernel_journal table
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens the SQLite database at dsn and creates the journal
// table if needed. ":memory:" gives a private in-memory journal.
func NewSQLiteSink(ctx context.Context, dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	sink, err := NewSQLiteSinkWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// NewSQLiteSinkWithDB creates a sink over an existing connection pool and
// creates the journal table if needed. Close closes db.
func NewSQLiteSinkWithDB(ctx context.Context, db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create journal table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Append stores entry
func (s *SQLiteSink) Append(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, insertEntrySQL, entry.ID.String(), entry.Event, entry.Module, entry.At.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// Recent returns at most limit entries, newest first
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}

	rows, err := s.db.QueryContext(ctx, recentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id    string
			entry Entry
			at    int64
		)
		if err := rows.Scan(&id, &entry.Event, &entry.Module, &at); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid journal entry id %q: %w", id, err)
		}
		entry.At = time.Unix(0, at).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}

// Close closes the database
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
