// CLAUDE:SUMMARY Single-Item Converter: skip rules, bounded engine calls through the strategy chain, PDF post-condition.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/docpipe"
)

// Engine converts one input file into a PDF at output. Implementations must
// acquire a dedicated external instance per call and release it on every
// exit path.
type Engine interface {
	Name() Strategy
	Available() bool
	Convert(ctx context.Context, input, output string) error
}

// Converter turns one WorkItem into one Outcome. It never touches the source.
type Converter struct {
	cfg     *config.Config
	engines map[Strategy]Engine
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Converter.
type Option func(*Converter)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

// New creates a Converter over a config snapshot and a set of engines.
func New(cfg *config.Config, engines []Engine, opts ...Option) *Converter {
	c := &Converter{
		cfg:     cfg,
		engines: make(map[Strategy]Engine, len(engines)),
		logger:  cfg.Logger,
		now:     time.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	for _, e := range engines {
		c.engines[e.Name()] = e
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Available lists the strategies whose engine reports itself usable.
func (c *Converter) Available() []Strategy {
	var out []Strategy
	for _, s := range []Strategy{StrategyOffice, StrategyLibreOffice, StrategyBrowser, StrategyReportLab, StrategyImage} {
		if e, ok := c.engines[s]; ok && e.Available() {
			out = append(out, s)
		}
	}
	return out
}

// Convert produces the outcome for item.
func (c *Converter) Convert(ctx context.Context, item docpipe.WorkItem) Outcome {
	start := c.now()
	o := Outcome{SourcePath: item.Path, Kind: item.Kind, Ext: item.Ext, DryRun: c.cfg.DryRun}
	finish := func(s Status, detail string) Outcome {
		o.Status, o.Detail = s, detail
		o.Duration = c.now().Sub(start)
		return o
	}

	info, err := os.Stat(item.Path)
	if err != nil {
		return finish(StatusError, fmt.Sprintf("stat source: %v", err))
	}
	o.SourceSize = info.Size()

	switch {
	case item.Kind == docpipe.KindPDF:
		return finish(StatusSkippedPDF, describePDF(item.Path))
	case item.Kind == docpipe.KindUnsupported:
		return finish(StatusSkippedType, fmt.Sprintf("unsupported type %q", item.Ext))
	case item.Kind.IsContainer():
		return finish(StatusError, "containers are expanded, not converted")
	}

	out := c.cfg.DestPath(item.Path)
	o.OutputPath = out
	if st, err := os.Stat(out); err == nil && !c.cfg.Force {
		o.OutputSize = st.Size()
		return finish(StatusSkippedExists, "output already exists")
	}

	strategies := Select(item, c.cfg.Method)
	if len(strategies) == 0 {
		o.OutputPath = ""
		return finish(StatusError, fmt.Sprintf("%v: method %s cannot convert %s", ErrNoStrategy, c.cfg.Method, item.Kind))
	}

	if c.cfg.DryRun {
		o.Method = strategies[0]
		return finish(StatusSuccess, fmt.Sprintf("dry-run: would convert via %s", strategies[0]))
	}

	res := WalkChain(strategies, func(s Strategy) (AttemptResult, time.Duration) {
		t0 := c.now()
		r := c.attempt(ctx, s, item.Path, out)
		return r, c.now().Sub(t0)
	})
	o.Method = res.Method
	o.Attempts = res.Attempts
	o.Fatal = res.Fatal

	switch res.Status {
	case StatusSuccess:
		if st, err := os.Stat(out); err == nil {
			o.OutputSize = st.Size()
		}
		return finish(StatusSuccess, "")
	case StatusSkippedPassword:
		o.OutputPath = ""
		return finish(StatusSkippedPassword, errString(res.LastErr))
	default:
		o.OutputPath = ""
		return finish(StatusError, errString(res.LastErr))
	}
}

// stagePath is the hidden sibling an engine writes into. The real output
// is only replaced once the staged file passed verification, so a failed
// forced re-conversion keeps the previous PDF.
func stagePath(out string) string {
	dir, name := filepath.Split(out)
	return filepath.Join(dir, "."+name+".part.pdf")
}

// attempt runs one engine call and checks the post-condition. Whatever a
// failed call left in the staging file is removed; out is never touched
// unless the attempt succeeded.
func (c *Converter) attempt(ctx context.Context, s Strategy, in, out string) AttemptResult {
	eng, ok := c.engines[s]
	if !ok || !eng.Available() {
		return EngineFailure{Err: fmt.Errorf("%s: %w", s, ErrUnavailable), Retryable: true}
	}

	// In-flight engines finish or time out; a user interrupt does not kill them.
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout(string(s)))
	defer cancel()

	stage := stagePath(out)
	if err := os.Remove(stage); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Classify(fmt.Errorf("clear staging file: %w", err), in, out, stage)
	}

	err := eng.Convert(ectx, in, stage)
	if errors.Is(ectx.Err(), context.DeadlineExceeded) {
		// Whatever the engine said, an expired call is a timeout.
		if err != nil {
			err = fmt.Errorf("%s: timed out after %s (%v): %w", s, c.cfg.Timeout(string(s)), err, context.DeadlineExceeded)
		} else {
			err = fmt.Errorf("%s: timed out after %s: %w", s, c.cfg.Timeout(string(s)), context.DeadlineExceeded)
		}
	}
	if err == nil {
		err = c.verify(stage)
	}
	if err == nil {
		err = os.Rename(stage, out)
	}
	r := Classify(err, in, out, stage)
	if _, ok := r.(Succeeded); !ok {
		if rmErr := os.Remove(stage); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			c.logger.Warn("convert: remove partial output", "path", stage, "error", rmErr)
		}
		c.logger.Debug("convert: attempt failed", "path", in, "strategy", s, "error", err)
	}
	return r
}

// verify enforces the success post-condition: the output exists, is
// non-empty and is a PDF.
func (c *Converter) verify(out string) error {
	st, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("%w: no output file", ErrFalseSuccess)
	}
	if st.Size() == 0 {
		return fmt.Errorf("%w: empty output", ErrFalseSuccess)
	}
	ok, err := docpipe.HasPDFMagic(out)
	if err != nil {
		return fmt.Errorf("%w: unreadable output", ErrFalseSuccess)
	}
	if !ok {
		return fmt.Errorf("%w: missing %%PDF- header", ErrFalseSuccess)
	}
	if c.cfg.VerifyOutput {
		if err := docpipe.ValidatePDF(out); err != nil {
			return fmt.Errorf("%w: %v", ErrFalseSuccess, err)
		}
	}
	return nil
}

func describePDF(path string) string {
	info, err := docpipe.InspectPDF(path)
	switch {
	case err != nil:
		return "already a PDF"
	case info.Encrypted:
		return fmt.Sprintf("already a PDF (%d pages, encrypted)", info.Pages)
	default:
		return fmt.Sprintf("already a PDF (%d pages)", info.Pages)
	}
}
