package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/topdf/convert"
)

var sofficeFallbacks = []string{
	`C:\Program Files\LibreOffice\program\soffice.exe`,
	`C:\Program Files (x86)\LibreOffice\program\soffice.exe`,
	"/Applications/LibreOffice.app/Contents/MacOS/soffice",
	"/usr/lib/libreoffice/program/soffice",
	"/opt/libreoffice/program/soffice",
}

// LibreOffice converts through a headless soffice process. Every call runs
// with its own throw-away user profile so concurrent or crashed instances
// never share state.
type LibreOffice struct {
	bin    string
	logger *slog.Logger
}

// NewLibreOffice locates soffice (configured path, PATH, then usual install
// locations). A missing binary makes the engine unavailable.
func NewLibreOffice(path string, logger *slog.Logger) *LibreOffice {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibreOffice{
		bin:    findBinary(path, []string{"soffice", "libreoffice"}, sofficeFallbacks),
		logger: logger,
	}
}

func (e *LibreOffice) Name() convert.Strategy { return convert.StrategyLibreOffice }
func (e *LibreOffice) Available() bool        { return e.bin != "" }

// Bin returns the resolved soffice path.
func (e *LibreOffice) Bin() string { return e.bin }

func (e *LibreOffice) Convert(ctx context.Context, in, out string) error {
	if err := probe(in); err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "topdf-lo-*")
	if err != nil {
		return fmt.Errorf("libreoffice: temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	profile, err := fileURL(filepath.Join(tmp, "profile"))
	if err != nil {
		return err
	}
	outdir := filepath.Join(tmp, "out")
	abs, err := filepath.Abs(in)
	if err != nil {
		return err
	}

	err = run(ctx, e.logger, nil, e.bin,
		"-env:UserInstallation="+profile,
		"--headless", "--norestore", "--nologo", "--nodefault", "--nolockcheck",
		"--convert-to", "pdf",
		"--outdir", outdir,
		abs,
	)
	if err != nil {
		return fmt.Errorf("libreoffice: %w", err)
	}

	// soffice names the result after the input stem; rename to the
	// configured naming rule.
	base := filepath.Base(abs)
	generated := filepath.Join(outdir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if _, err := os.Stat(generated); err != nil {
		// soffice exits 0 when it cannot load the source; passwords end up here.
		return fmt.Errorf("libreoffice: %w (source could not be loaded)", errNoOutput)
	}
	if err := place(generated, out); err != nil {
		return fmt.Errorf("libreoffice: place output: %w", err)
	}
	return nil
}
