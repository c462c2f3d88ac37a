// CLAUDE:SUMMARY Pass-based Tree Walker: convert phase then expand phase per pass, explicit directory queue, fixed point on new directories.
// Package walk drives a topdf run over a directory tree.
//
// Each pass converts every non-container item of its directories, then
// expands every container. Pass 1 scans the root (recursively when
// configured); pass N+1 scans only the directories created by the expand
// phase of pass N. The run stops at the first pass that creates no
// directory, so N nested container levels take N+1 passes.
//
// Item failures become outcomes and never abort the walk. Cancellation is
// checked before each unit of work; fatal environment failures (read-only
// or full destination) stop the run. The report is finalized in every case.
package walk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/topdf/audit"
	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/docpipe"
	"github.com/hazyhaar/topdf/expand"
	"github.com/hazyhaar/topdf/idgen"
	"github.com/hazyhaar/topdf/kit"
)

var (
	// ErrInterrupted is returned when the context was cancelled mid-run.
	ErrInterrupted = errors.New("walk: interrupted")
	// ErrFatal is returned when an environment failure stopped the run.
	ErrFatal = errors.New("walk: fatal environment failure")
)

// Converter turns one item into an outcome.
type Converter interface {
	Convert(ctx context.Context, item docpipe.WorkItem) convert.Outcome
}

// Expander unpacks one container.
type Expander interface {
	Expand(ctx context.Context, item docpipe.WorkItem, visited *expand.VisitedSet) (expand.Result, error)
}

// Recorder persists the run as it progresses. Recorder errors are logged and
// never affect the walk.
type Recorder interface {
	BeginRun(ctx context.Context, s audit.Session) error
	RecordOutcome(ctx context.Context, runID string, o convert.Outcome) error
	RecordExpansion(ctx context.Context, runID string, r expand.Result) error
	FinishRun(ctx context.Context, r *audit.SessionReport, reportPath string) error
}

// Options tunes a Walker.
type Options struct {
	// Recorder receives outcomes and expansions. Optional.
	Recorder Recorder
	// Exclude lists files that are never inputs (journal, log file).
	Exclude []string
	// NewID produces the run id. Default: idgen.Default.
	NewID idgen.Generator
	// Now overrides time.Now.
	Now func() time.Time
	// Logger overrides cfg.Logger.
	Logger *slog.Logger
}

func (o *Options) defaults(cfg *config.Config) {
	if o.NewID == nil {
		o.NewID = idgen.Default
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = cfg.Logger
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Walker runs one session over a tree. A Walker is single-use: its
// VisitedSet is scoped to the run.
type Walker struct {
	cfg     *config.Config
	conv    Converter
	exp     Expander
	opts    Options
	logger  *slog.Logger
	visited *expand.VisitedSet
	exclude map[string]bool
	// scanned holds directories already enumerated this run, handled the
	// files already converted or expanded. Together they keep a run linear
	// in the number of files even when recursion and expansion overlap.
	scanned map[string]bool
	handled map[string]bool

	agg        *audit.Aggregator
	runID      string
	reportPath string
}

// New returns a Walker over a config snapshot.
func New(cfg *config.Config, conv Converter, exp Expander, opts Options) *Walker {
	opts.defaults(cfg)
	w := &Walker{
		cfg:     cfg,
		conv:    conv,
		exp:     exp,
		opts:    opts,
		logger:  opts.Logger,
		visited: expand.NewVisitedSet(),
		exclude: make(map[string]bool),
		scanned: make(map[string]bool),
		handled: make(map[string]bool),
	}
	for _, p := range opts.Exclude {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
				w.exclude[abs+suffix] = true
			}
		}
	}
	return w
}

// Visited returns the number of distinct directories offered to the Expander.
func (w *Walker) Visited() int { return w.visited.Len() }

// ReportPath returns the report file written by Run, if any.
func (w *Walker) ReportPath() string { return w.reportPath }

// Run walks root and returns the finalized report. The report is non-nil
// whenever root could be opened, including on ErrInterrupted and ErrFatal.
func (w *Walker) Run(ctx context.Context, root string) (*audit.SessionReport, error) {
	if w.agg != nil {
		return nil, errors.New("walk: walker already used")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("walk: %s is not a directory", abs)
	}

	w.runID = w.opts.NewID()
	session := audit.Session{
		RunID:     w.runID,
		Root:      abs,
		Method:    w.cfg.Method,
		Recursive: w.cfg.Recursive,
		Force:     w.cfg.Force,
		DryRun:    w.cfg.DryRun,
		Started:   w.opts.Now(),
	}
	w.agg = audit.New(session, audit.WithClock(w.opts.Now))
	ctx = kit.WithRunID(ctx, w.runID)

	rec := w.opts.Recorder
	if rec != nil {
		if err := rec.BeginRun(ctx, session); err != nil {
			w.logger.Error("walk: journal unavailable, continuing without it", "error", err)
			rec = nil
		}
	}
	w.opts.Recorder = rec

	w.logger.Info("walk: start", "run_id", w.runID, "root", abs, "method", w.cfg.Method,
		"recursive", w.cfg.Recursive, "force", w.cfg.Force, "dry_run", w.cfg.DryRun)

	runErr := w.passes(ctx, abs)
	switch {
	case errors.Is(runErr, ErrInterrupted):
		w.agg.MarkInterrupted()
	case runErr != nil:
		w.agg.MarkFatal(runErr)
	}

	report, err := w.agg.Finalize()
	if err != nil {
		return nil, err
	}

	if w.cfg.ReportEnabled && !w.cfg.DryRun {
		dir := w.cfg.ReportDir
		if dir == "" {
			dir = abs
		}
		if path, err := audit.WriteReportFile(report, dir); err != nil {
			w.logger.Error("walk: write report", "error", err)
		} else {
			w.reportPath = path
		}
	}
	if rec != nil {
		if err := rec.FinishRun(context.WithoutCancel(ctx), report, w.reportPath); err != nil {
			w.logger.Error("walk: journal finish", "error", err)
		}
	}

	c := report.Counters
	w.logger.Info("walk: done", "run_id", w.runID, "passes", c.Passes, "files", c.Files,
		"success", c.Success, "errors", c.Errors, "skipped", c.Skipped(),
		"expansions", c.ExpansionsCreated, "elapsed", report.Elapsed)
	return report, runErr
}

// passes is the fixed-point loop over the directory queue.
func (w *Walker) passes(ctx context.Context, root string) error {
	dirs := []scanDir{{path: root, recursive: w.cfg.Recursive, root: true}}
	for pass := 1; len(dirs) > 0; pass++ {
		w.agg.SetPasses(pass)
		items, containers, err := w.scan(ctx, dirs)
		w.logger.Debug("walk: pass", "pass", pass, "dirs", len(dirs),
			"items", len(items), "containers", len(containers))
		if err != nil {
			return err
		}

		for _, item := range items {
			if ctx.Err() != nil {
				return ErrInterrupted
			}
			if err := w.convertOne(ctx, item); err != nil {
				return err
			}
		}

		var created []scanDir
		for _, item := range containers {
			if ctx.Err() != nil {
				return ErrInterrupted
			}
			next, err := w.expandOne(ctx, item)
			if err != nil {
				return err
			}
			if next != nil {
				created = append(created, *next)
			}
		}
		dirs = created
	}
	return nil
}

func (w *Walker) convertOne(ctx context.Context, item docpipe.WorkItem) error {
	w.handled[item.Path] = true
	o := w.conv.Convert(ctx, item)
	w.record(ctx, o)
	w.logger.Info("walk: item", "path", item.Path, "kind", item.Kind, "strategy", o.Method,
		"status", o.Status, "duration", o.Duration)

	if o.Fatal {
		return fmt.Errorf("%w: %s: %s", ErrFatal, item.Path, o.Detail)
	}
	if o.Status == convert.StatusSuccess && !o.DryRun {
		return w.retire(item.Path)
	}
	return nil
}

// expandOne returns the directory to scan in the next pass, nil when there
// is nothing to look at. A directory left by an earlier run is scanned too,
// unless this run already enumerated it, so re-runs see the same files.
func (w *Walker) expandOne(ctx context.Context, item docpipe.WorkItem) (*scanDir, error) {
	w.handled[item.Path] = true
	res, err := w.exp.Expand(ctx, item, w.visited)
	if err != nil {
		if convert.IsFatal(err) {
			w.record(ctx, containerOutcome(item, res, err))
			return nil, fmt.Errorf("%w: %s: %v", ErrFatal, item.Path, err)
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, ErrInterrupted
		}
		w.record(ctx, containerOutcome(item, res, err))
		return nil, nil
	}

	if err := w.agg.RecordExpansion(res); err != nil {
		w.logger.Error("walk: aggregate expansion", "container", item.Path, "error", err)
	}
	if rec := w.opts.Recorder; rec != nil {
		if err := rec.RecordExpansion(ctx, w.runID, res); err != nil {
			w.logger.Warn("walk: journal expansion", "container", item.Path, "error", err)
		}
	}

	switch {
	case res.Created:
		if err := w.retire(item.Path); err != nil {
			return nil, err
		}
		// A force re-populate may add files to a directory scanned earlier.
		return &scanDir{path: res.OutputDir, recursive: true, refresh: res.Existed}, nil
	case res.Existed && !w.scanned[res.OutputDir]:
		return &scanDir{path: res.OutputDir, recursive: true}, nil
	}
	return nil, nil
}

// containerOutcome turns a failed expansion into an item outcome.
func containerOutcome(item docpipe.WorkItem, res expand.Result, err error) convert.Outcome {
	o := convert.Outcome{
		SourcePath: item.Path,
		Kind:       item.Kind,
		Ext:        item.Ext,
		Status:     convert.StatusError,
		Duration:   res.Duration,
		Detail:     err.Error(),
		DryRun:     res.DryRun,
	}
	if info, statErr := os.Stat(item.Path); statErr == nil {
		o.SourceSize = info.Size()
	}
	if convert.IsAuthFailure(err, item.Path, res.OutputDir) {
		o.Status = convert.StatusSkippedPassword
	}
	return o
}

func (w *Walker) record(ctx context.Context, o convert.Outcome) {
	if err := w.agg.Record(o); err != nil {
		w.logger.Error("walk: aggregate outcome", "path", o.SourcePath, "error", err)
	}
	if rec := w.opts.Recorder; rec != nil {
		if err := rec.RecordOutcome(ctx, w.runID, o); err != nil {
			w.logger.Warn("walk: journal outcome", "path", o.SourcePath, "error", err)
		}
	}
}

// retire applies the source retention policy once an item is fully handled.
// Only environment failures are returned; other failures are logged.
func (w *Walker) retire(path string) error {
	var (
		err    error
		action string
	)
	switch {
	case w.cfg.DeleteSource:
		action, err = "delete", os.Remove(path)
	case w.cfg.HideSource:
		action = "hide"
		_, err = hide(path)
	default:
		return nil
	}
	if err == nil {
		w.logger.Debug("walk: source retired", "path", path, "action", action)
		return nil
	}
	if convert.IsFatal(err) {
		return fmt.Errorf("%w: %s source: %v", ErrFatal, action, err)
	}
	w.logger.Warn("walk: source retention failed", "path", path, "action", action, "error", err)
	return nil
}
