package audit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/topdf/convert"
)

// ReportPrefix starts every report file name.
const ReportPrefix = "conversion_report_"

const (
	rule      = "================================================================================"
	lightRule = "--------------------------------------------------------------------------------"
)

// WriteText renders the full session report.
func (r *SessionReport) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) { fmt.Fprintf(bw, format+"\n", args...) }
	c := r.Counters

	p(rule)
	p("CONVERSION REPORT - %s", r.Started.Format("2006-01-02 15:04:05"))
	p(rule)
	p("")

	p("SESSION")
	p(lightRule)
	if r.RunID != "" {
		p("  Run ID             : %s", r.RunID)
	}
	p("  Root directory     : %s", r.Root)
	p("  Method             : %s", r.Method)
	p("  Recursive          : %s", yesNo(r.Recursive))
	if r.DryRun {
		p("  Dry run            : yes")
	}
	p("  Session duration   : %s", formatDuration(r.Elapsed))
	p("  Passes             : %d", c.Passes)
	if r.Interrupted {
		p("  Status             : INTERRUPTED (partial report)")
	}
	if r.Fatal != "" {
		p("  Status             : STOPPED - %s", r.Fatal)
	}
	p("")

	p("SUMMARY")
	p(lightRule)
	p("  Files analysed     : %d", c.Files)
	p("  Converted          : %d (%s)", c.Success, percent(c.Success, c.Files))
	p("  Skipped            : %d", c.Skipped())
	p("    - already exists : %d", c.SkippedExists)
	p("    - password       : %d", c.SkippedPassword)
	p("    - already PDF    : %d", c.SkippedPDF)
	p("    - unsupported    : %d", c.SkippedType)
	p("  Errors             : %d", c.Errors)
	p("  Expansions         : %d (%d created)", c.Expansions, c.ExpansionsCreated)
	p("")

	if c.SourceBytes > 0 {
		p("VOLUMES")
		p(lightRule)
		p("  Source size        : %s", formatSize(c.SourceBytes))
		p("  PDF size           : %s", formatSize(c.OutputBytes))
		if c.OutputBytes > 0 {
			p("  Ratio              : %.0f%%", float64(c.OutputBytes)/float64(c.SourceBytes)*100)
		}
		p("  Conversion time    : %s", formatDuration(c.ConvertTime))
		if c.Success > 0 {
			p("  Average per file   : %.2fs", c.ConvertTime.Seconds()/float64(c.Success))
		}
		p("")
	}

	if len(r.ByType) > 0 {
		p("BY TYPE")
		p(lightRule)
		for _, t := range r.ByType {
			p("  %-8s : %4d files (%10s) -> %s", t.Ext, t.Count, formatSize(t.SourceBytes), typeStatus(t))
		}
		p("")
	}

	if ok := r.Filter(convert.StatusSuccess); len(ok) > 0 {
		p("SUCCESSFUL CONVERSIONS")
		p(lightRule)
		for _, o := range ok {
			p("  %s", r.rel(o.SourcePath))
			p("      -> %s (%s, %.1fs)", filepath.Base(o.OutputPath), o.Method, o.Duration.Seconds())
		}
		p("")
	}

	var created int
	for _, e := range r.Expansions {
		if e.Created {
			created++
		}
	}
	if created > 0 {
		p("EXPANDED CONTAINERS")
		p(lightRule)
		for _, e := range r.Expansions {
			if e.Created {
				p("  %s -> %s/ (%d entries)", r.rel(e.ContainerPath), r.rel(e.OutputDir), len(e.Entries))
			}
		}
		p("")
	}

	if failed := r.Filter(convert.StatusError); len(failed) > 0 {
		p("DETAILED FAILURES")
		p(lightRule)
		for i, o := range failed {
			p("  [%d] %s", i+1, filepath.Base(o.SourcePath))
			p("      Path    : %s", o.SourcePath)
			p("      Reason  : %s", o.Detail)
			if len(o.Attempts) > 0 {
				p("      Attempts:")
				for _, at := range o.Attempts {
					msg := at.Error
					if msg == "" {
						msg = "ok"
					}
					p("        %-12s %6.1fs  %s", at.Strategy, at.Duration.Seconds(), msg)
				}
			}
			p("")
		}
	}

	if locked := r.Filter(convert.StatusSkippedPassword); len(locked) > 0 {
		p("PASSWORD-PROTECTED FILES")
		p(lightRule)
		for _, o := range locked {
			p("  - %s", o.SourcePath)
		}
		p("")
	}

	if unsupported := r.Filter(convert.StatusSkippedType); len(unsupported) > 0 {
		p("UNSUPPORTED FILES")
		p(lightRule)
		for _, o := range unsupported {
			p("  - %s", r.rel(o.SourcePath))
		}
		p("")
	}

	p(rule)
	p("Report generated %s", r.Finished.Format("2006-01-02 15:04:05"))
	p(rule)
	return bw.Flush()
}

// WriteSummary prints the short end-of-run summary shown on the console.
func (r *SessionReport) WriteSummary(w io.Writer) {
	c := r.Counters
	fmt.Fprintf(w, "\n%d files: %d converted, %d skipped, %d errors", c.Files, c.Success, c.Skipped(), c.Errors)
	if c.ExpansionsCreated > 0 {
		fmt.Fprintf(w, ", %d containers expanded", c.ExpansionsCreated)
	}
	fmt.Fprintf(w, " (%s)\n", formatDuration(r.Elapsed))
	if c.SkippedPassword > 0 {
		fmt.Fprintf(w, "%d password-protected files were left as is.\n", c.SkippedPassword)
	}
	if c.SkippedExists > 0 {
		fmt.Fprintf(w, "%d files already had a PDF; use -force to convert them again.\n", c.SkippedExists)
	}
	if r.Interrupted {
		fmt.Fprintln(w, "Interrupted: the report is partial.")
	}
	if r.Fatal != "" {
		fmt.Fprintf(w, "Stopped: %s\n", r.Fatal)
	}
}

// WriteReportFile writes the text report into dir as
// conversion_report_YYYYMMDD_HHMMSS.txt and returns its path. An existing
// report of the same second is never overwritten.
func WriteReportFile(r *SessionReport, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("audit: report dir: %w", err)
	}
	base := ReportPrefix + r.Started.Format("20060102_150405")
	for n := 0; ; n++ {
		name := base + ".txt"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.txt", base, n)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("audit: create report: %w", err)
		}
		werr := r.WriteText(f)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return "", fmt.Errorf("audit: write report: %w", werr)
		}
		return path, nil
	}
}

// IsReportFile reports whether name looks like a generated report.
func IsReportFile(name string) bool {
	return strings.HasPrefix(name, ReportPrefix) && strings.HasSuffix(name, ".txt")
}

func (r *SessionReport) rel(path string) string {
	if r.Root == "" {
		return path
	}
	if rel, err := filepath.Rel(r.Root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return filepath.Base(path)
}

func typeStatus(t TypeStats) string {
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(t.Success, "ok")
	add(t.Errors, "error")
	add(t.Exists, "existing")
	add(t.Password, "password")
	add(t.Unsupported, "unsupported")
	add(t.PDF, "already pdf")
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func percent(n, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", float64(n)/float64(total)*100)
}

func formatSize(n int64) string {
	switch {
	case n < 1<<10:
		return fmt.Sprintf("%d B", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	case n < 1<<30:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/(1<<30))
	}
}

func formatDuration(d time.Duration) string {
	s := d.Seconds()
	switch {
	case s < 60:
		return fmt.Sprintf("%.1fs", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", int(s)/60, int(s)%60)
	default:
		return fmt.Sprintf("%dh %dm", int(s)/3600, int(s)%3600/60)
	}
}
