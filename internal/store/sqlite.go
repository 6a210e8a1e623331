package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps documents in a SQLite database, one row per calendar
// name. Each store is a single-row upsert, so it commits entirely or not at
// all.
type SQLiteStore struct {
	db   *sql.DB
	path string
	name string
}

// OpenSQLite creates or opens the database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
func OpenSQLite(path, name string) (*SQLiteStore, error) {
	if name == "" {
		name = "default"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &IOError{Op: "open", Path: path, Err: fmt.Errorf("execute %q: %w", pragma, err)}
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, &IOError{Op: "open", Path: path, Err: fmt.Errorf("apply schema: %w", err)}
	}

	return &SQLiteStore{db: db, path: path, name: name}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM documents WHERE name = ?`, s.name,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &IOError{Op: "load", Path: s.path, Err: err}
	}
	return content, nil
}

func (s *SQLiteStore) Store(ctx context.Context, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (name, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		s.name, content, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &IOError{Op: "store", Path: s.path, Err: err}
	}
	return nil
}
