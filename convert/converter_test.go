package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/docpipe"
)

var minimalPDF = []byte("%PDF-1.4\n%fake\n")

type fakeEngine struct {
	name   Strategy
	down   bool
	err    error
	output []byte // written to the output path before returning
	calls  int
	sawCtx error
}

func (f *fakeEngine) Name() Strategy  { return f.name }
func (f *fakeEngine) Available() bool { return !f.down }
func (f *fakeEngine) Convert(ctx context.Context, in, out string) error {
	f.calls++
	f.sawCtx = ctx.Err()
	if f.output != nil {
		if err := os.WriteFile(out, f.output, 0644); err != nil {
			return err
		}
	}
	return f.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.VerifyOutput = false
	cfg.JournalEnabled = false
	cfg.ReportEnabled = false
	return cfg
}

func source(t *testing.T, name string) docpipe.WorkItem {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("source"), 0644); err != nil {
		t.Fatal(err)
	}
	return docpipe.Classify(path)
}

func TestConvert_Success(t *testing.T) {
	office := &fakeEngine{name: StrategyOffice, output: minimalPDF}
	c := New(testConfig(), []Engine{office})
	item := source(t, "report.docx")

	o := c.Convert(context.Background(), item)
	if o.Status != StatusSuccess || o.Method != StrategyOffice {
		t.Fatalf("got %s via %s: %s", o.Status, o.Method, o.Detail)
	}
	if o.OutputPath != item.Path+".pdf" {
		t.Fatalf("output path: %s", o.OutputPath)
	}
	if o.OutputSize != int64(len(minimalPDF)) || o.SourceSize != 6 {
		t.Fatalf("sizes: src=%d out=%d", o.SourceSize, o.OutputSize)
	}
}

func TestConvert_PasswordShortCircuit(t *testing.T) {
	office := &fakeEngine{name: StrategyOffice, output: []byte("%PDF-partial"), err: errors.New("The password is incorrect")}
	libre := &fakeEngine{name: StrategyLibreOffice, output: minimalPDF}
	c := New(testConfig(), []Engine{office, libre})
	item := source(t, "secret.xlsx")

	o := c.Convert(context.Background(), item)
	if o.Status != StatusSkippedPassword {
		t.Fatalf("status: %s (%s)", o.Status, o.Detail)
	}
	if office.calls+libre.calls != 1 {
		t.Fatalf("engine calls: %d, want 1", office.calls+libre.calls)
	}
	if _, err := os.Stat(item.Path + ".pdf"); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("partial output left behind")
	}
	if o.OutputPath != "" {
		t.Fatalf("output path on skip: %q", o.OutputPath)
	}
}

func TestConvert_TypedAuthError(t *testing.T) {
	office := &fakeEngine{name: StrategyOffice, err: &AuthError{Reason: "workbook structure locked"}}
	libre := &fakeEngine{name: StrategyLibreOffice, output: minimalPDF}
	o := New(testConfig(), []Engine{office, libre}).Convert(context.Background(), source(t, "a.xlsx"))
	if o.Status != StatusSkippedPassword || libre.calls != 0 {
		t.Fatalf("status %s, libreoffice calls %d", o.Status, libre.calls)
	}
}

func TestConvert_Fallback(t *testing.T) {
	office := &fakeEngine{name: StrategyOffice, down: true}
	libre := &fakeEngine{name: StrategyLibreOffice, err: errors.New("soffice crashed")}
	lab := &fakeEngine{name: StrategyReportLab, output: minimalPDF}
	c := New(testConfig(), []Engine{office, libre, lab})

	o := c.Convert(context.Background(), source(t, "notes.txt"))
	if o.Status != StatusSuccess || o.Method != StrategyReportLab {
		t.Fatalf("got %s via %s", o.Status, o.Method)
	}
	if office.calls != 0 {
		t.Fatal("office is not in the text chain")
	}
	if len(o.Attempts) != 2 || o.Attempts[0].Error == "" {
		t.Fatalf("attempts: %+v", o.Attempts)
	}
}

func TestConvert_ExhaustedKeepsLastDetail(t *testing.T) {
	office := &fakeEngine{name: StrategyOffice, err: errors.New("COM error 0x800A")}
	libre := &fakeEngine{name: StrategyLibreOffice, err: errors.New("soffice exited 77")}
	o := New(testConfig(), []Engine{office, libre}).Convert(context.Background(), source(t, "a.docx"))
	if o.Status != StatusError || !strings.Contains(o.Detail, "exited 77") {
		t.Fatalf("got %s: %s", o.Status, o.Detail)
	}
}

func TestConvert_FalseSuccess(t *testing.T) {
	tests := []struct {
		name   string
		output []byte
	}{
		{"no file", nil},
		{"empty file", []byte{}},
		{"not a pdf", []byte("<html></html>")},
	}
	for _, tt := range tests {
		eng := &fakeEngine{name: StrategyImage, output: tt.output}
		item := source(t, "photo.png")
		o := New(testConfig(), []Engine{eng}).Convert(context.Background(), item)
		if o.Status != StatusError || !strings.Contains(o.Detail, ErrFalseSuccess.Error()) {
			t.Errorf("%s: got %s: %s", tt.name, o.Status, o.Detail)
		}
		if _, err := os.Stat(item.Path + ".pdf"); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s: invalid output left behind", tt.name)
		}
	}
}

func TestConvert_VerifyOutput(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pdf")
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(40, 10, "ok")
	if err := pdf.OutputFileAndClose(good); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(good)

	cfg := testConfig()
	cfg.VerifyOutput = true
	eng := &fakeEngine{name: StrategyImage, output: data}
	if o := New(cfg, []Engine{eng}).Convert(context.Background(), source(t, "a.png")); o.Status != StatusSuccess {
		t.Fatalf("valid pdf rejected: %s", o.Detail)
	}

	eng = &fakeEngine{name: StrategyImage, output: []byte("%PDF-1.7\ngarbage without xref")}
	if o := New(cfg, []Engine{eng}).Convert(context.Background(), source(t, "b.png")); o.Status != StatusError {
		t.Fatalf("broken pdf accepted: %s", o.Status)
	}
}

func TestConvert_SkipRules(t *testing.T) {
	eng := &fakeEngine{name: StrategyLibreOffice, output: minimalPDF}
	c := New(testConfig(), []Engine{eng})

	if o := c.Convert(context.Background(), source(t, "done.pdf")); o.Status != StatusSkippedPDF {
		t.Fatalf("pdf: %s", o.Status)
	}
	if o := c.Convert(context.Background(), source(t, "blob.xyz")); o.Status != StatusSkippedType {
		t.Fatalf("unsupported: %s", o.Status)
	}

	item := source(t, "a.txt")
	os.WriteFile(item.Path+".pdf", minimalPDF, 0644)
	o := c.Convert(context.Background(), item)
	if o.Status != StatusSkippedExists || o.OutputPath != item.Path+".pdf" {
		t.Fatalf("exists: %s %q", o.Status, o.OutputPath)
	}
	if eng.calls != 0 {
		t.Fatalf("engine called %d times for skips", eng.calls)
	}
}

func TestConvert_Force(t *testing.T) {
	cfg := testConfig()
	cfg.Force = true
	eng := &fakeEngine{name: StrategyLibreOffice, output: minimalPDF}
	item := source(t, "a.txt")
	os.WriteFile(item.Path+".pdf", []byte("%PDF-old"), 0644)

	o := New(cfg, []Engine{eng}).Convert(context.Background(), item)
	if o.Status != StatusSuccess || eng.calls != 1 {
		t.Fatalf("force: %s, calls %d", o.Status, eng.calls)
	}
}

func TestConvert_ForceReplacesOnlyAfterSuccess(t *testing.T) {
	previous := []byte("%PDF-1.4\n%previous good output\n")
	tests := []struct {
		name    string
		engines []Engine
		status  Status
		want    []byte
	}{
		{
			name: "chain exhausted",
			engines: []Engine{
				&fakeEngine{name: StrategyOffice, output: []byte("%PDF-trunc"), err: errors.New("COM error 0x800A")},
				&fakeEngine{name: StrategyLibreOffice, err: errors.New("soffice exited 77")},
			},
			status: StatusError,
			want:   previous,
		},
		{
			name:    "false success",
			engines: []Engine{&fakeEngine{name: StrategyLibreOffice, output: []byte("<html></html>")}},
			status:  StatusError,
			want:    previous,
		},
		{
			name:    "password",
			engines: []Engine{&fakeEngine{name: StrategyOffice, err: errors.New("Document is password protected")}},
			status:  StatusSkippedPassword,
			want:    previous,
		},
		{
			name:    "success",
			engines: []Engine{&fakeEngine{name: StrategyOffice, output: minimalPDF}},
			status:  StatusSuccess,
			want:    minimalPDF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Force = true
			item := source(t, "report.docx")
			out := cfg.DestPath(item.Path)
			if err := os.WriteFile(out, previous, 0644); err != nil {
				t.Fatal(err)
			}

			o := New(cfg, tt.engines).Convert(context.Background(), item)
			if o.Status != tt.status {
				t.Fatalf("status %s: %s", o.Status, o.Detail)
			}
			got, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("output gone: %v", err)
			}
			if string(got) != string(tt.want) {
				t.Fatalf("output = %q, want %q", got, tt.want)
			}
			if _, err := os.Stat(stagePath(out)); !errors.Is(err, os.ErrNotExist) {
				t.Fatal("staging file left behind")
			}
		})
	}
}

func TestConvert_ForcedMethodMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.Method = config.MethodOffice
	eng := &fakeEngine{name: StrategyOffice, output: minimalPDF}
	o := New(cfg, []Engine{eng}).Convert(context.Background(), source(t, "notes.txt"))
	if o.Status != StatusError || !strings.Contains(o.Detail, ErrNoStrategy.Error()) {
		t.Fatalf("got %s: %s", o.Status, o.Detail)
	}
	if eng.calls != 0 {
		t.Fatal("silent fallback")
	}
}

func TestConvert_DryRun(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	eng := &fakeEngine{name: StrategyOffice, output: minimalPDF}
	item := source(t, "a.docx")

	o := New(cfg, []Engine{eng}).Convert(context.Background(), item)
	if o.Status != StatusSuccess || !o.DryRun || o.Method != StrategyOffice {
		t.Fatalf("dry run: %+v", o)
	}
	if eng.calls != 0 {
		t.Fatal("engine called in dry run")
	}
	if _, err := os.Stat(item.Path + ".pdf"); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("dry run wrote output")
	}
}

func TestConvert_CancelledContextReachesEngineUncancelled(t *testing.T) {
	eng := &fakeEngine{name: StrategyImage, output: minimalPDF}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(testConfig(), []Engine{eng}).Convert(ctx, source(t, "a.png"))
	if o.Status != StatusSuccess {
		t.Fatalf("status %s: %s", o.Status, o.Detail)
	}
	if eng.sawCtx != nil {
		t.Fatalf("engine saw %v", eng.sawCtx)
	}
}

type slowEngine struct{ fakeEngine }

func (s *slowEngine) Convert(ctx context.Context, in, out string) error {
	s.calls++
	<-ctx.Done()
	return errors.New("password prompt never answered")
}

func TestConvert_TimeoutIsError(t *testing.T) {
	cfg := testConfig()
	cfg.LibreOfficeTimeout = 1
	eng := &slowEngine{fakeEngine{name: StrategyImage}}

	start := time.Now()
	o := New(cfg, []Engine{eng}).Convert(context.Background(), source(t, "a.png"))
	if o.Status != StatusError {
		t.Fatalf("timeout gave %s: %s", o.Status, o.Detail)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestConvert_Fatal(t *testing.T) {
	eng := &fakeEngine{name: StrategyImage, err: &os.PathError{Op: "write", Path: "x", Err: syscall.EROFS}}
	o := New(testConfig(), []Engine{eng}).Convert(context.Background(), source(t, "a.png"))
	if o.Status != StatusError || !o.Fatal {
		t.Fatalf("got %s fatal=%v", o.Status, o.Fatal)
	}
}
