// Package dbopen opens the SQLite databases storewatch persists to, with
// WAL journaling, a busy timeout and NORMAL sync applied through plain
// PRAGMA statements so any database/sql SQLite driver works.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("storewatch.db", dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
//
// Tests use OpenMemory.
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Driver is the database/sql driver name registered by modernc.org/sqlite.
const Driver = "sqlite"

// BusyTimeoutMs is how long a statement waits on a locked database.
const BusyTimeoutMs = 10_000

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	fmt.Sprintf("PRAGMA busy_timeout = %d", BusyTimeoutMs),
	"PRAGMA synchronous = NORMAL",
}

type options struct {
	mkdirAll bool
	schemas  []string
}

// Option customises Open.
type Option func(*options)

// WithMkdirAll creates the parent directories of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema runs s once the pragmas are applied. Schemas must be idempotent.
func WithSchema(s string) Option { return func(o *options) { o.schemas = append(o.schemas, s) } }

// Open opens the database at path, applies the pragmas and schemas, and
// pings it. The driver must be registered by a blank import.
func Open(path string, opts ...Option) (*sql.DB, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open(Driver, path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := setup(db, o.schemas); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func setup(db *sql.DB, schemas []string) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for _, s := range schemas {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return nil
}

// OpenMemory opens a private in-memory database closed by t.Cleanup.
// Open pins ":memory:" to one connection since each connection would get
// its own database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
