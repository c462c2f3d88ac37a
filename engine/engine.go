// CLAUDE:SUMMARY Shared helpers for the conversion engines: binary lookup, bounded subprocess runs, atomic output placement.
// Package engine implements the external conversion engines behind
// convert.Engine: office automation (PowerShell + COM), headless
// LibreOffice, a text renderer (fpdf), headless Chrome (go-rod) and a direct
// image importer (pdfcpu). Every call acquires its own external instance and
// releases it on every exit path.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/docpipe"
)

// stderrLimit bounds the engine output quoted in failure details.
const stderrLimit = 300

// findBinary returns configured if it exists, else the first name found in
// PATH, else the first existing fallback location.
func findBinary(configured string, names []string, fallbacks []string) string {
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured
		}
		return ""
	}
	for _, n := range names {
		if p, err := exec.LookPath(n); err == nil {
			return p
		}
	}
	for _, p := range fallbacks {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// run executes a command bounded by ctx. The error carries the exit status
// and the head of stderr (stdout when stderr is empty).
func run(ctx context.Context, logger *slog.Logger, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("engine: exec", "bin", filepath.Base(name), "args", len(args))
	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return fmt.Errorf("%s: %w: %s", filepath.Base(name), err, truncate(msg, stderrLimit))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// probe turns a structurally detected encryption into a typed auth error.
func probe(in string) error {
	reason, err := docpipe.ProbeEncryption(in)
	if err != nil {
		return err
	}
	if reason != "" {
		return &convert.AuthError{Reason: reason}
	}
	return nil
}

// place moves src to dst. Falls back to copy+remove across devices.
func place(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// tempSibling returns a temp file path next to out, so the final rename
// stays on one filesystem.
func tempSibling(out string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(out), ".topdf-*.pdf")
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

// fileURL returns a file:// URL for an absolute path, on any OS.
func fileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String(), nil
}

var errNoOutput = errors.New("no PDF produced")

// All returns every engine configured from cfg, in selector order.
func All(cfg *config.Config) []convert.Engine {
	logger := cfg.Logger
	return []convert.Engine{
		NewOffice(cfg.PowerShellPath, logger),
		NewLibreOffice(cfg.LibreOfficePath, logger),
		NewBrowser(cfg.BrowserPath, logger),
		NewRenderer(logger),
		NewImage(logger),
	}
}
