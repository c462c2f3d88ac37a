package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// maxRetries bounds attempts on SQLITE_BUSY; backoff is 100, 200, 300 ms.
const maxRetries = 3

// IsBusy reports whether err is an SQLite BUSY/locked condition, which
// happens when topdf-audit reads the journal while a run writes it.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// retry runs op until it succeeds, fails with a non-busy error, or the
// attempts are exhausted.
func retry[T any](ctx context.Context, name string, op func() (T, error)) (T, error) {
	var zero T
	for i := range maxRetries {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !IsBusy(err) || i == maxRetries-1 {
			return zero, err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("dbopen: %s: context cancelled during retry: %w", name, ctx.Err())
		case <-t.C:
		}
	}
	return zero, fmt.Errorf("dbopen: %s: max retries exceeded", name)
}

// RunTx executes fn inside a transaction, retrying the whole transaction on
// SQLITE_BUSY.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := retry(ctx, "tx", func() (struct{}, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return struct{}{}, err
		}
		if err := tx.Commit(); err != nil {
			return struct{}{}, fmt.Errorf("dbopen: commit: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Exec executes a statement, retrying on SQLITE_BUSY.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return retry(ctx, "exec", func() (sql.Result, error) {
		return db.ExecContext(ctx, query, args...)
	})
}
