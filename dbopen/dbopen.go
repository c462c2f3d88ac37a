// Package dbopen opens the SQLite journal shared by topdf runs and the
// topdf-audit viewer. Pragmas are applied with plain EXEC statements so any
// database/sql SQLite driver works.
//
// A writer gets foreign_keys, busy_timeout, WAL and synchronous=NORMAL. A
// read-only handle only sets foreign_keys and busy_timeout and never
// creates the file.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(journal.Schema))
package dbopen

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

const memoryPath = ":memory:"

type settings struct {
	driver   string
	busyMS   int
	mkdir    bool
	readOnly bool
	ddl      []string
}

// Option customises Open.
type Option func(*settings)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds (default 10000).
func WithBusyTimeout(ms int) Option { return func(s *settings) { s.busyMS = ms } }

// WithMkdirAll creates the parent directory of a writable database.
func WithMkdirAll() Option { return func(s *settings) { s.mkdir = true } }

// WithSchema adds DDL run once the pragmas are set. Ignored when read-only.
func WithSchema(ddl string) Option { return func(s *settings) { s.ddl = append(s.ddl, ddl) } }

// WithReadOnly opens an existing database in mode=ro. The journal mode is
// whatever the writer left.
func WithReadOnly() Option { return func(s *settings) { s.readOnly = true } }

func (s *settings) dsn(path string) (string, error) {
	if !s.readOnly {
		return path, nil
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return "file:" + filepath.ToSlash(path) + "?mode=ro", nil
}

func (s *settings) pragmas() []string {
	p := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = " + strconv.Itoa(s.busyMS),
	}
	if s.readOnly {
		return p
	}
	return append(p, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
}

// Open returns a ready handle on the database at path. The SQLite driver
// must be registered by the caller.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{driver: "sqlite", busyMS: 10_000}
	for _, o := range opts {
		o(&s)
	}

	if s.mkdir && !s.readOnly && path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}
	dsn, err := s.dsn(path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: %w", err)
	}
	db, err := sql.Open(s.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if err := s.prepare(db); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return db, nil
}

// prepare applies pragmas, then DDL, then checks the connection.
func (s *settings) prepare(db *sql.DB) error {
	for _, p := range s.pragmas() {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	if !s.readOnly {
		for _, ddl := range s.ddl {
			if _, err := db.Exec(ddl); err != nil {
				return fmt.Errorf("dbopen: schema: %w", err)
			}
		}
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return nil
}

// OpenMemory is the test helper: a single-connection in-memory database
// (every ":memory:" connection is a distinct database) closed on cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
