// Package store persists accounts, the delivered-invoice history and the
// log feed in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	context_label TEXT,
	username      TEXT NOT NULL,
	password      TEXT NOT NULL,
	api_key       TEXT,
	save_path     TEXT
);

CREATE TABLE IF NOT EXISTS history (
	invoice_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS logs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	level     TEXT NOT NULL,
	message   TEXT NOT NULL
);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// Store bundles the three tables behind their own types.
type Store struct {
	DB       *sql.DB
	Accounts *Accounts
	History  *History
	Logs     *Logs
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: sqlite serialises writers anyway, and :memory: databases
	// are per-connection
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return New(db), nil
}

// New wraps an already initialised database.
func New(db *sql.DB) *Store {
	return &Store{
		DB:       db,
		Accounts: &Accounts{db: db},
		History:  &History{db: db},
		Logs:     &Logs{db: db},
	}
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
