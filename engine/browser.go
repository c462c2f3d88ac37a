package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/topdf/convert"
)

// Browser prints markup to PDF with headless Chrome. Each call launches its
// own browser with a fresh user-data dir, killed and cleaned up on return.
// The engine never downloads a browser: an absent binary makes it unavailable.
type Browser struct {
	bin    string
	logger *slog.Logger
}

// NewBrowser resolves the Chrome/Chromium binary (configured path, then the
// launcher's own lookup).
func NewBrowser(path string, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Browser{logger: logger}
	if path != "" {
		e.bin = findBinary(path, nil, nil)
	} else if p, ok := launcher.LookPath(); ok {
		e.bin = p
	}
	return e
}

func (e *Browser) Name() convert.Strategy { return convert.StrategyBrowser }
func (e *Browser) Available() bool        { return e.bin != "" }

func (e *Browser) Convert(ctx context.Context, in, out string) error {
	src, err := fileURL(in)
	if err != nil {
		return err
	}

	l := launcher.New().
		Bin(e.bin).
		Context(ctx).
		Headless(true).
		Leakless(false).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-extensions")
	defer l.Cleanup()
	defer l.Kill()

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("browser: launch: %w", err)
	}

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	defer b.Close()

	page, err := b.Page(proto.TargetCreateTarget{URL: src})
	if err != nil {
		return fmt.Errorf("browser: open page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("browser: load: %w", err)
	}

	r, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground:   true,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return fmt.Errorf("browser: print: %w", err)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("browser: write: %w", err)
	}
	return f.Close()
}
