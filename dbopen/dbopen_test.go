package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/topdf/dbopen"
)

const outcomesDDL = `CREATE TABLE outcomes (id INTEGER PRIMARY KEY, status TEXT NOT NULL)`

func pragma(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var v string
	if err := db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func countOutcomes(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM outcomes`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestPragmas(t *testing.T) {
	cases := []struct {
		name string
		opts []dbopen.Option
		want map[string]string
	}{
		{"defaults", nil, map[string]string{"foreign_keys": "1", "synchronous": "1", "busy_timeout": "10000"}},
		{"busy timeout", []dbopen.Option{dbopen.WithBusyTimeout(2500)}, map[string]string{"busy_timeout": "2500"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := dbopen.OpenMemory(t, tc.opts...)
			for k, want := range tc.want {
				if got := pragma(t, db, k); got != want {
					t.Errorf("%s = %s, want %s", k, got, want)
				}
			}
		})
	}
}

func TestOpenFileUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "nested", "journal.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(outcomesDDL))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if got := pragma(t, db, "journal_mode"); got != "wal" {
		t.Fatalf("journal_mode = %s", got)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file: %v", err)
	}
}

func TestOpenWithoutMkdirFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "journal.db")
	if db, err := dbopen.Open(path); err == nil {
		db.Close()
		t.Fatal("open succeeded in a missing directory")
	}
}

func TestReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	rw, err := dbopen.Open(path, dbopen.WithSchema(outcomesDDL))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Exec(`INSERT INTO outcomes (status) VALUES ('success')`); err != nil {
		t.Fatal(err)
	}
	rw.Close()

	ro, err := dbopen.Open(path, dbopen.WithReadOnly(), dbopen.WithSchema(`CREATE TABLE never (x)`))
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if n := countOutcomes(t, ro); n != 1 {
		t.Fatalf("outcomes = %d", n)
	}
	if _, err := ro.Exec(`INSERT INTO outcomes (status) VALUES ('error')`); err == nil {
		t.Fatal("write accepted on read-only handle")
	}

	_, err = dbopen.Open(filepath.Join(t.TempDir(), "missing.db"), dbopen.WithReadOnly())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing journal: %v", err)
	}
}

func TestBadSchemaClosesHandle(t *testing.T) {
	if _, err := dbopen.Open(filepath.Join(t.TempDir(), "j.db"), dbopen.WithSchema("NOT SQL")); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestIsBusy(t *testing.T) {
	for msg, want := range map[string]bool{
		"":                               false,
		"disk I/O error":                 false,
		"SQLITE_BUSY":                    true,
		"exec: database is locked (5)":   true,
		"database table is locked: runs": true,
	} {
		var err error
		if msg != "" {
			err = errors.New(msg)
		}
		if got := dbopen.IsBusy(err); got != want {
			t.Errorf("IsBusy(%q) = %v", msg, got)
		}
	}
}

func TestRunTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(outcomesDDL))
	ctx := context.Background()

	if err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO outcomes (status) VALUES ('success'), ('error')`)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	abort := errors.New("abort")
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO outcomes (status) VALUES ('skipped_type')`); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("RunTx = %v", err)
	}
	if n := countOutcomes(t, db); n != 2 {
		t.Fatalf("outcomes = %d, want 2 after rollback", n)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := dbopen.RunTx(cancelled, db, func(*sql.Tx) error { return nil }); err == nil {
		t.Fatal("RunTx on cancelled context succeeded")
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(outcomesDDL))
	res, err := dbopen.Exec(context.Background(), db, `INSERT INTO outcomes (status) VALUES (?)`, "success")
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := res.LastInsertId(); id != 1 {
		t.Fatalf("id = %d", id)
	}
}
