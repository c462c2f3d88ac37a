package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/topdf/convert"
)

// Run is a journal run header.
type Run struct {
	RunID       string     `json:"run_id"`
	Root        string     `json:"root"`
	Method      string     `json:"method"`
	Recursive   bool       `json:"recursive"`
	Force       bool       `json:"force"`
	DryRun      bool       `json:"dry_run"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      string     `json:"status"`
	Files       int        `json:"files"`
	Success     int        `json:"success"`
	Errors      int        `json:"errors"`
	Skipped     int        `json:"skipped"`
	Expansions  int        `json:"expansions"`
	Passes      int        `json:"passes"`
	SourceBytes int64      `json:"source_bytes"`
	OutputBytes int64      `json:"output_bytes"`
	ReportPath  string     `json:"report_path,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// Entry is one journaled outcome.
type Entry struct {
	ID          int64             `json:"id"`
	RunID       string            `json:"run_id"`
	RecordedAt  time.Time         `json:"recorded_at"`
	Status      convert.Status    `json:"status"`
	Kind        string            `json:"kind"`
	Ext         string            `json:"ext"`
	SourcePath  string            `json:"source_path"`
	OutputPath  string            `json:"output_path,omitempty"`
	Method      string            `json:"method,omitempty"`
	Duration    time.Duration     `json:"duration"`
	SourceSize  int64             `json:"source_size"`
	OutputSize  int64             `json:"output_size"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Detail      string            `json:"detail,omitempty"`
	Attempts    []convert.Attempt `json:"attempts"`
}

// Filter narrows Outcomes.
type Filter struct {
	Status convert.Status // empty = all
	Limit  int            // default 100, max 1000
	Offset int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return 100
	case f.Limit > 1000:
		return 1000
	}
	return f.Limit
}

const runColumns = `run_id, root, method, recursive, force, dry_run, started_at, finished_at, status,
	files, success, errors, skipped, expansions, passes, source_bytes, output_bytes, report_path, detail`

func scanRun(s interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
		report   sql.NullString
		detail   sql.NullString
	)
	err := s.Scan(&r.RunID, &r.Root, &r.Method, &r.Recursive, &r.Force, &r.DryRun, &started, &finished,
		&r.Status, &r.Files, &r.Success, &r.Errors, &r.Skipped, &r.Expansions, &r.Passes,
		&r.SourceBytes, &r.OutputBytes, &report, &detail)
	if err != nil {
		return r, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		r.FinishedAt = &t
	}
	r.ReportPath, r.Detail = report.String, detail.String
	return r, nil
}

// Runs lists runs, most recent first.
func (j *Journal) Runs(ctx context.Context, limit, offset int) ([]Run, error) {
	limit = Filter{Limit: limit}.limit()
	rows, err := j.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ? OFFSET ?`,
		limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("journal: runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns one run header.
func (j *Journal) Run(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal: run %s: %w", id, err)
	}
	return &r, nil
}

// Outcomes lists the journaled outcomes of a run in record order.
func (j *Journal) Outcomes(ctx context.Context, runID string, f Filter) ([]Entry, error) {
	if _, err := j.Run(ctx, runID); err != nil {
		return nil, err
	}
	query := `SELECT outcome_id, run_id, recorded_at, status, kind, ext, source_path, output_path,
			method, duration_ms, source_size, output_size, fingerprint, detail, attempts
		FROM outcomes WHERE run_id = ?`
	args := []any{runID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY outcome_id LIMIT ? OFFSET ?`
	args = append(args, f.limit(), max(f.Offset, 0))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: outcomes: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                       Entry
			recorded, durMS         int64
			out, method, fp, detail sql.NullString
			attempts                string
		)
		err := rows.Scan(&e.ID, &e.RunID, &recorded, &e.Status, &e.Kind, &e.Ext, &e.SourcePath, &out,
			&method, &durMS, &e.SourceSize, &e.OutputSize, &fp, &detail, &attempts)
		if err != nil {
			return nil, fmt.Errorf("journal: scan outcome: %w", err)
		}
		e.RecordedAt = time.UnixMilli(recorded).UTC()
		e.Duration = time.Duration(durMS) * time.Millisecond
		e.OutputPath, e.Method, e.Fingerprint, e.Detail = out.String, method.String, fp.String, detail.String
		if err := json.Unmarshal([]byte(attempts), &e.Attempts); err != nil {
			j.logger.Warn("journal: bad attempts column", "outcome_id", e.ID, "error", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
