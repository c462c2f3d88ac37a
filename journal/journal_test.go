package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/topdf/audit"
	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/dbopen"
	"github.com/hazyhaar/topdf/docpipe"
	"github.com/hazyhaar/topdf/expand"
)

const (
	runA = "01920000-0000-7000-8000-000000000001"
	runB = "01920000-0000-7000-8000-000000000002"
)

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testJournal(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	j, err := New(dbopen.OpenMemory(t), append([]Option{WithClock(func() time.Time { return t0 })}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func session(id string, started time.Time) audit.Session {
	return audit.Session{RunID: id, Root: "/data/inbox", Method: "auto", Recursive: true, Started: started}
}

func outcome(path string, status convert.Status) convert.Outcome {
	o := convert.Outcome{
		SourcePath: path,
		Kind:       docpipe.KindOfficeDoc,
		Ext:        filepath.Ext(path),
		Status:     status,
		Duration:   1500 * time.Millisecond,
	}
	switch status {
	case convert.StatusSuccess:
		o.OutputPath, o.Method = path+".pdf", convert.StrategyLibreOffice
	case convert.StatusError:
		o.Detail = "soffice exited 77"
		o.Attempts = []convert.Attempt{{Strategy: convert.StrategyLibreOffice, Duration: time.Second, Error: "soffice exited 77"}}
	}
	return o
}

func finish(t *testing.T, j *Journal, id string, mut func(*audit.Aggregator)) *audit.SessionReport {
	t.Helper()
	agg := audit.New(session(id, t0), audit.WithClock(func() time.Time { return t0.Add(time.Minute) }))
	if mut != nil {
		mut(agg)
	}
	r, err := agg.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if err := j.FinishRun(context.Background(), r, "/data/inbox/conversion_report.txt"); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	j := testJournal(t)

	if err := j.BeginRun(ctx, session(runA, t0)); err != nil {
		t.Fatal(err)
	}
	run, err := j.Run(ctx, runA)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunRunning || run.FinishedAt != nil || !run.Recursive {
		t.Fatalf("begin: %+v", run)
	}

	finish(t, j, runA, func(a *audit.Aggregator) {
		a.Record(outcome("/data/inbox/a.docx", convert.StatusSuccess))
		a.Record(outcome("/data/inbox/b.docx", convert.StatusError))
		a.Record(outcome("/data/inbox/c.pdf", convert.StatusSkippedPDF))
		a.SetPasses(2)
	})

	run, err = j.Run(ctx, runA)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunDone || run.Files != 3 || run.Success != 1 || run.Errors != 1 || run.Skipped != 1 || run.Passes != 2 {
		t.Fatalf("finish: %+v", run)
	}
	if run.FinishedAt == nil || run.FinishedAt.Sub(run.StartedAt) != time.Minute {
		t.Fatalf("finished at: %v", run.FinishedAt)
	}
	if run.ReportPath != "/data/inbox/conversion_report.txt" {
		t.Fatalf("report path: %q", run.ReportPath)
	}
}

func TestFinishRun_States(t *testing.T) {
	ctx := context.Background()
	j := testJournal(t)
	j.BeginRun(ctx, session(runA, t0))
	j.BeginRun(ctx, session(runB, t0.Add(time.Hour)))

	finish(t, j, runA, func(a *audit.Aggregator) { a.MarkInterrupted() })
	finish(t, j, runB, func(a *audit.Aggregator) { a.MarkFatal(errors.New("destination is read-only")) })

	a, _ := j.Run(ctx, runA)
	b, _ := j.Run(ctx, runB)
	if a.Status != RunInterrupted {
		t.Errorf("interrupted run: %s", a.Status)
	}
	if b.Status != RunFatal || b.Detail == "" {
		t.Errorf("fatal run: %s %q", b.Status, b.Detail)
	}
}

func TestFinishRun_Unknown(t *testing.T) {
	j := testJournal(t)
	agg := audit.New(session(runA, t0))
	r, _ := agg.Finalize()
	if err := j.FinishRun(context.Background(), r, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOutcomes(t *testing.T) {
	ctx := context.Background()
	j := testJournal(t)
	j.BeginRun(ctx, session(runA, t0))

	for _, o := range []convert.Outcome{
		outcome("/x/a.docx", convert.StatusSuccess),
		outcome("/x/b.docx", convert.StatusError),
		outcome("/x/c.xlsx", convert.StatusSkippedPassword),
	} {
		if err := j.RecordOutcome(ctx, runA, o); err != nil {
			t.Fatal(err)
		}
	}

	all, err := j.Outcomes(ctx, runA, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].SourcePath != "/x/a.docx" {
		t.Fatalf("outcomes: %+v", all)
	}
	if all[0].Method != "libreoffice" || all[0].Duration != 1500*time.Millisecond || !all[0].RecordedAt.Equal(t0) {
		t.Fatalf("first outcome: %+v", all[0])
	}

	errs, err := j.Outcomes(ctx, runA, Filter{Status: convert.StatusError})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || len(errs[0].Attempts) != 1 || errs[0].Attempts[0].Error != "soffice exited 77" {
		t.Fatalf("errors: %+v", errs)
	}

	page, _ := j.Outcomes(ctx, runA, Filter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].SourcePath != "/x/b.docx" {
		t.Fatalf("page: %+v", page)
	}

	if _, err := j.Outcomes(ctx, runB, Filter{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown run: %v", err)
	}
}

func TestErrorsOnly(t *testing.T) {
	ctx := context.Background()
	j := testJournal(t, WithErrorsOnly(true))
	j.BeginRun(ctx, session(runA, t0))

	j.RecordOutcome(ctx, runA, outcome("/x/a.docx", convert.StatusSuccess))
	j.RecordOutcome(ctx, runA, outcome("/x/b.docx", convert.StatusError))
	j.RecordExpansion(ctx, runA, expand.Result{ContainerPath: "/x/a.zip", OutputDir: "/x/a", Kind: docpipe.KindArchive, Created: true})

	all, _ := j.Outcomes(ctx, runA, Filter{})
	if len(all) != 1 || all[0].Status != convert.StatusError {
		t.Fatalf("errors-only kept: %+v", all)
	}
	var n int
	j.db.QueryRow(`SELECT COUNT(*) FROM expansions`).Scan(&n)
	if n != 0 {
		t.Fatalf("expansions recorded in errors-only mode: %d", n)
	}
}

func TestRecordExpansion(t *testing.T) {
	ctx := context.Background()
	j := testJournal(t)
	j.BeginRun(ctx, session(runA, t0))

	r := expand.Result{
		ContainerPath: "/x/mail.eml",
		OutputDir:     "/x/mail.eml-open",
		Kind:          docpipe.KindMail,
		Created:       true,
		Entries:       []docpipe.WorkItem{{Path: "/x/mail.eml-open/message.html"}},
		Duration:      20 * time.Millisecond,
	}
	if err := j.RecordExpansion(ctx, runA, r); err != nil {
		t.Fatal(err)
	}
	var (
		dir     string
		created bool
		entries int
	)
	err := j.db.QueryRow(`SELECT output_dir, created, entries FROM expansions WHERE run_id = ?`, runA).Scan(&dir, &created, &entries)
	if err != nil {
		t.Fatal(err)
	}
	if dir != r.OutputDir || !created || entries != 1 {
		t.Fatalf("row: %s %v %d", dir, created, entries)
	}
}

func TestFingerprint(t *testing.T) {
	ctx := context.Background()
	j := testJournal(t)
	j.BeginRun(ctx, session(runA, t0))

	path := filepath.Join(t.TempDir(), "a.docx")
	os.WriteFile(path, []byte("hello"), 0644)
	j.RecordOutcome(ctx, runA, outcome(path, convert.StatusSuccess))
	j.RecordOutcome(ctx, runA, outcome(filepath.Join(t.TempDir(), "gone.docx"), convert.StatusError))

	all, _ := j.Outcomes(ctx, runA, Filter{})
	// BLAKE2b-256("hello")
	const want = "324dcf027dd4a30a932c441f365a25e86b173defa4b8e58948253471b81b72cf"
	if all[0].Fingerprint != want {
		t.Fatalf("fingerprint = %s", all[0].Fingerprint)
	}
	if all[1].Fingerprint != "" {
		t.Fatalf("missing file fingerprinted: %s", all[1].Fingerprint)
	}
}

func TestRuns_Order(t *testing.T) {
	ctx := context.Background()
	j := testJournal(t)
	j.BeginRun(ctx, session(runA, t0))
	j.BeginRun(ctx, session(runB, t0.Add(time.Hour)))

	runs, err := j.Runs(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != runB {
		t.Fatalf("runs: %+v", runs)
	}
	runs, _ = j.Runs(ctx, 1, 1)
	if len(runs) != 1 || runs[0].RunID != runA {
		t.Fatalf("page: %+v", runs)
	}
}

func TestOpenFileAndReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	j.BeginRun(ctx, session(runA, t0))
	j.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if _, err := ro.Run(ctx, runA); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if err := ro.BeginRun(ctx, session(runB, t0)); err == nil {
		t.Fatal("write through read-only journal")
	}
}
