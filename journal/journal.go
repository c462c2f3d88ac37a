// CLAUDE:SUMMARY SQLite journal of runs, per-item outcomes and container expansions, with read queries for the viewer.
// Package journal persists every topdf run to SQLite: a header row per run,
// one row per outcome (optionally errors only) and one row per expansion.
// The same store backs the topdf-audit HTTP viewer and the MCP run tools.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/topdf/audit"
	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/dbopen"
	"github.com/hazyhaar/topdf/expand"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("journal: run not found")

// Run states.
const (
	RunRunning     = "running"
	RunDone        = "done"
	RunInterrupted = "interrupted"
	RunFatal       = "fatal"
)

// Journal writes and reads the run journal.
type Journal struct {
	db         *sql.DB
	errorsOnly bool
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithErrorsOnly records only error outcomes (run headers are always kept).
func WithErrorsOnly(on bool) Option { return func(j *Journal) { j.errorsOnly = on } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(j *Journal) { j.logger = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(j *Journal) { j.now = now } }

// Open opens (creating if needed) the journal database at path.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return newJournal(db, opts), nil
}

// OpenReadOnly opens an existing journal for reading.
func OpenReadOnly(path string, opts ...Option) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithReadOnly())
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return newJournal(db, opts), nil
}

// New wraps an already opened database and applies the schema.
func New(db *sql.DB, opts ...Option) (*Journal, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return newJournal(db, opts), nil
}

func newJournal(db *sql.DB, opts []Option) *Journal {
	j := &Journal{db: db, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// BeginRun writes the run header.
func (j *Journal) BeginRun(ctx context.Context, s audit.Session) error {
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO runs (run_id, root, method, recursive, force, dry_run, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Root, s.Method, s.Recursive, s.Force, s.DryRun, s.Started.UnixMilli(), RunRunning)
	if err != nil {
		return fmt.Errorf("journal: begin run: %w", err)
	}
	return nil
}

// RecordOutcome appends one outcome row.
func (j *Journal) RecordOutcome(ctx context.Context, runID string, o convert.Outcome) error {
	if j.errorsOnly && o.Status != convert.StatusError {
		return nil
	}
	attempts, err := json.Marshal(o.Attempts)
	if err != nil {
		return fmt.Errorf("journal: attempts: %w", err)
	}
	if o.Attempts == nil {
		attempts = []byte("[]")
	}
	var fp any
	if o.Status != convert.StatusSkippedType && !o.DryRun {
		if sum := fingerprint(o.SourcePath); sum != "" {
			fp = sum
		}
	}
	_, err = dbopen.Exec(ctx, j.db, `
		INSERT INTO outcomes (run_id, recorded_at, status, kind, ext, source_path, output_path,
			method, duration_ms, source_size, output_size, fingerprint, detail, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, j.now().UnixMilli(), string(o.Status), string(o.Kind), o.Ext, o.SourcePath,
		nullable(o.OutputPath), nullable(string(o.Method)), o.Duration.Milliseconds(),
		o.SourceSize, o.OutputSize, fp, nullable(o.Detail), string(attempts))
	if err != nil {
		return fmt.Errorf("journal: record outcome: %w", err)
	}
	return nil
}

// RecordExpansion appends one expansion row. Skipped in errors-only mode.
func (j *Journal) RecordExpansion(ctx context.Context, runID string, r expand.Result) error {
	if j.errorsOnly {
		return nil
	}
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO expansions (run_id, recorded_at, container_path, output_dir, kind, created,
			entries, skipped, duration_ms, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, j.now().UnixMilli(), r.ContainerPath, r.OutputDir, string(r.Kind), r.Created,
		len(r.Entries), len(r.Skipped), r.Duration.Milliseconds(), nullable(r.Detail))
	if err != nil {
		return fmt.Errorf("journal: record expansion: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and state of a run.
func (j *Journal) FinishRun(ctx context.Context, r *audit.SessionReport, reportPath string) error {
	status, detail := RunDone, ""
	switch {
	case r.Fatal != "":
		status, detail = RunFatal, r.Fatal
	case r.Interrupted:
		status = RunInterrupted
	}
	c := r.Counters
	err := dbopen.RunTx(ctx, j.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET finished_at = ?, status = ?, files = ?, success = ?, errors = ?,
				skipped = ?, expansions = ?, passes = ?, source_bytes = ?, output_bytes = ?,
				report_path = ?, detail = ?
			WHERE run_id = ?`,
			r.Finished.UnixMilli(), status, c.Files, c.Success, c.Errors, c.Skipped(),
			c.ExpansionsCreated, c.Passes, c.SourceBytes, c.OutputBytes,
			nullable(reportPath), nullable(detail), r.RunID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("journal: finish run %s: %w", r.RunID, err)
	}
	return nil
}

// fingerprint is the hex BLAKE2b-256 of the file at path, "" when unreadable.
func fingerprint(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return ""
	}
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
