// CLAUDE:SUMMARY Aggregator accumulating outcomes and expansions into a SessionReport, finalized exactly once.
// Package audit accumulates the outcomes of one topdf run and produces the
// session report.
//
// The Aggregator is driven by a single goroutine (the walker) and is not
// safe for concurrent use. Finalize may be called once; any call after that,
// including Record, returns ErrFinalized.
package audit

import (
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/expand"
)

// ErrFinalized is returned when the aggregator is used after Finalize.
var ErrFinalized = errors.New("audit: report already finalized")

// Session describes the run being audited.
type Session struct {
	RunID     string    `json:"run_id"`
	Root      string    `json:"root"`
	Method    string    `json:"method"`
	Recursive bool      `json:"recursive"`
	Force     bool      `json:"force"`
	DryRun    bool      `json:"dry_run"`
	Started   time.Time `json:"started"`
}

// Counters are the global statistics of a run.
type Counters struct {
	Files             int           `json:"files"`
	Success           int           `json:"success"`
	Errors            int           `json:"errors"`
	SkippedPDF        int           `json:"skipped_pdf"`
	SkippedPassword   int           `json:"skipped_password"`
	SkippedType       int           `json:"skipped_type"`
	SkippedExists     int           `json:"skipped_exists"`
	Expansions        int           `json:"expansions"`
	ExpansionsCreated int           `json:"expansions_created"`
	Passes            int           `json:"passes"`
	SourceBytes       int64         `json:"source_bytes"`
	OutputBytes       int64         `json:"output_bytes"`
	ConvertTime       time.Duration `json:"convert_time"`
}

// Skipped is the total of all skipped_* outcomes.
func (c Counters) Skipped() int {
	return c.SkippedPDF + c.SkippedPassword + c.SkippedType + c.SkippedExists
}

// TypeStats is the per-extension breakdown.
type TypeStats struct {
	Ext         string `json:"ext"`
	Count       int    `json:"count"`
	Success     int    `json:"success"`
	Errors      int    `json:"errors"`
	Exists      int    `json:"exists"`
	Password    int    `json:"password"`
	Unsupported int    `json:"unsupported"`
	PDF         int    `json:"pdf"`
	SourceBytes int64  `json:"source_bytes"`
}

// SessionReport is the immutable result of a run.
type SessionReport struct {
	Session
	Finished    time.Time         `json:"finished"`
	Elapsed     time.Duration     `json:"elapsed"`
	Interrupted bool              `json:"interrupted,omitempty"`
	Fatal       string            `json:"fatal,omitempty"`
	Counters    Counters          `json:"counters"`
	ByType      []TypeStats       `json:"by_type"`
	Outcomes    []convert.Outcome `json:"outcomes"`
	Expansions  []expand.Result   `json:"expansions"`
}

// HasErrors reports whether any item ended in error. Skips do not count.
func (r *SessionReport) HasErrors() bool { return r.Counters.Errors > 0 }

// Filter returns the outcomes with the given status, in record order.
func (r *SessionReport) Filter(s convert.Status) []convert.Outcome {
	var out []convert.Outcome
	for _, o := range r.Outcomes {
		if o.Status == s {
			out = append(out, o)
		}
	}
	return out
}

// Aggregator accumulates outcomes for one run.
type Aggregator struct {
	session     Session
	outcomes    []convert.Outcome
	expansions  []expand.Result
	counters    Counters
	byType      map[string]*TypeStats
	interrupted bool
	fatal       string
	finalized   bool
	now         func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New starts the aggregation of session. A zero Started is set to now.
func New(session Session, opts ...Option) *Aggregator {
	a := &Aggregator{
		session: session,
		byType:  make(map[string]*TypeStats),
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.session.Started.IsZero() {
		a.session.Started = a.now()
	}
	return a
}

// Record adds one item outcome.
func (a *Aggregator) Record(o convert.Outcome) error {
	if a.finalized {
		return ErrFinalized
	}
	a.outcomes = append(a.outcomes, o)

	c := &a.counters
	c.Files++
	c.SourceBytes += o.SourceSize
	c.ConvertTime += o.Duration

	ext := o.Ext
	if ext == "" {
		ext = "(none)"
	}
	ts, ok := a.byType[ext]
	if !ok {
		ts = &TypeStats{Ext: ext}
		a.byType[ext] = ts
	}
	ts.Count++
	ts.SourceBytes += o.SourceSize

	switch o.Status {
	case convert.StatusSuccess:
		c.Success++
		c.OutputBytes += o.OutputSize
		ts.Success++
	case convert.StatusError:
		c.Errors++
		ts.Errors++
	case convert.StatusSkippedPDF:
		c.SkippedPDF++
		ts.PDF++
	case convert.StatusSkippedPassword:
		c.SkippedPassword++
		ts.Password++
	case convert.StatusSkippedType:
		c.SkippedType++
		ts.Unsupported++
	case convert.StatusSkippedExists:
		c.SkippedExists++
		ts.Exists++
	}
	return nil
}

// RecordExpansion adds one container expansion, no-ops included.
func (a *Aggregator) RecordExpansion(r expand.Result) error {
	if a.finalized {
		return ErrFinalized
	}
	a.expansions = append(a.expansions, r)
	a.counters.Expansions++
	if r.Created {
		a.counters.ExpansionsCreated++
	}
	return nil
}

// SetPasses records how many walker passes ran.
func (a *Aggregator) SetPasses(n int) { a.counters.Passes = n }

// MarkInterrupted flags the report as partial after cancellation.
func (a *Aggregator) MarkInterrupted() { a.interrupted = true }

// MarkFatal flags the report as partial after an environment failure.
func (a *Aggregator) MarkFatal(err error) {
	if err != nil {
		a.fatal = err.Error()
	}
}

// Counters returns the running totals.
func (a *Aggregator) Counters() Counters { return a.counters }

// Finalize closes the aggregation and returns the report.
func (a *Aggregator) Finalize() (*SessionReport, error) {
	if a.finalized {
		return nil, ErrFinalized
	}
	a.finalized = true
	end := a.now()

	types := make([]TypeStats, 0, len(a.byType))
	for _, ts := range a.byType {
		types = append(types, *ts)
	}
	sort.Slice(types, func(i, j int) bool {
		if types[i].Count != types[j].Count {
			return types[i].Count > types[j].Count
		}
		return types[i].Ext < types[j].Ext
	})

	outcomes := make([]convert.Outcome, len(a.outcomes))
	for i, o := range a.outcomes {
		o.Attempts = slices.Clone(o.Attempts)
		outcomes[i] = o
	}
	expansions := make([]expand.Result, len(a.expansions))
	for i, r := range a.expansions {
		r.Entries = slices.Clone(r.Entries)
		r.Skipped = slices.Clone(r.Skipped)
		expansions[i] = r
	}

	return &SessionReport{
		Session:     a.session,
		Finished:    end,
		Elapsed:     end.Sub(a.session.Started),
		Interrupted: a.interrupted,
		Fatal:       a.fatal,
		Counters:    a.counters,
		ByType:      types,
		Outcomes:    outcomes,
		Expansions:  expansions,
	}, nil
}
