// CLAUDE:SUMMARY CLI entry point for topdf: converts a document tree to PDF, serves MCP over stdio, writes default config.
// Command topdf converts every document under a directory to PDF, expanding
// archives and mail containers along the way, and writes an audit report.
//
// Usage:
//
//	topdf [flags] [root]                 # convert root (default ".")
//	topdf -dry-run -recursive ./inbox    # show what would happen
//	topdf -init-config                   # write .topdfrc with defaults
//	topdf -mcp                           # MCP server on stdio
//
// Exit status: 0 when no item ended in error, 1 when some did, 2 on usage,
// configuration or fatal environment errors, 130 when interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/docpipe"
	"github.com/hazyhaar/topdf/engine"
	"github.com/hazyhaar/topdf/expand"
	"github.com/hazyhaar/topdf/journal"
	"github.com/hazyhaar/topdf/walk"
)

const version = "1.0.0"

const (
	exitOK          = 0
	exitErrors      = 1
	exitUsage       = 2
	exitInterrupted = 130
)

type flags struct {
	configPath  string
	initConfig  bool
	mcpMode     bool
	logFormat   string
	method      string
	keepExt     bool
	recursive   bool
	force       bool
	deleteSrc   bool
	hideSrc     bool
	dryRun      bool
	noReport    bool
	reportDir   string
	noJournal   bool
	journalPath string
	errorsOnly  bool
	verify      bool
	extensions  string
	logLevel    string
	version     bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var f flags
	registerFlags(flag.CommandLine, &f)
	flag.Parse()

	if f.version {
		fmt.Println("topdf", version)
		return exitOK
	}

	if f.initConfig {
		return initConfig(f.configPath, f.force)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "topdf:", err)
		return exitUsage
	}
	applyFlags(flag.CommandLine, cfg, &f)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "topdf:", err)
		return exitUsage
	}

	logger, closeLog, err := newLogger(cfg, f.logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "topdf:", err)
		return exitUsage
	}
	defer closeLog()
	cfg.Logger = logger
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engines := engine.All(cfg)

	if f.mcpMode {
		if err := serveMCP(ctx, cfg, engines, logger); err != nil && ctx.Err() == nil {
			logger.Error("topdf: mcp", "error", err)
			return exitUsage
		}
		return exitOK
	}

	if flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "usage: topdf [flags] [root]")
		return exitUsage
	}
	root := "."
	if flag.NArg() == 1 {
		root = flag.Arg(0)
	}
	return convertTree(ctx, cfg, engines, logger, root)
}

func registerFlags(fs *flag.FlagSet, f *flags) {
	fs.StringVar(&f.configPath, "config", "", "config file (default: "+config.DefaultFile+" in the working directory)")
	fs.BoolVar(&f.initConfig, "init-config", false, "write the default config to -config or "+config.DefaultFile+" and exit")
	fs.BoolVar(&f.mcpMode, "mcp", false, "serve the topdf MCP tools on stdio")
	fs.StringVar(&f.logFormat, "log-format", "auto", "log format: auto, text, json")
	fs.StringVar(&f.method, "method", "", "conversion method: auto, office, libreoffice, reportlab")
	fs.BoolVar(&f.keepExt, "keep-extension", true, "name outputs <name><ext>.pdf instead of <name>.pdf")
	fs.BoolVar(&f.recursive, "recursive", false, "descend into subdirectories of root")
	fs.BoolVar(&f.force, "force", false, "convert again when the PDF exists, re-populate expanded containers")
	fs.BoolVar(&f.deleteSrc, "delete-source", false, "delete sources after a successful conversion")
	fs.BoolVar(&f.hideSrc, "hide-source", false, "hide sources after a successful conversion")
	fs.BoolVar(&f.dryRun, "dry-run", false, "report what would be done without writing anything")
	fs.BoolVar(&f.noReport, "no-report", false, "do not write the conversion report file")
	fs.StringVar(&f.reportDir, "report-dir", "", "directory for the report file (default: root)")
	fs.BoolVar(&f.noJournal, "no-journal", false, "do not record the run in the SQLite journal")
	fs.StringVar(&f.journalPath, "journal", "", "journal database (default: "+config.DefaultJournalFile+" in root)")
	fs.BoolVar(&f.errorsOnly, "errors-only", false, "journal only error outcomes")
	fs.BoolVar(&f.verify, "verify", true, "validate every produced PDF structurally")
	fs.StringVar(&f.extensions, "extensions", "", "comma-separated allow-list of extensions, e.g. .docx,.txt")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
}

// applyFlags copies the flags given on the command line over cfg.
func applyFlags(fs *flag.FlagSet, cfg *config.Config, f *flags) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "method":
			cfg.Method = f.method
		case "keep-extension":
			cfg.KeepExtension = f.keepExt
		case "recursive":
			cfg.Recursive = f.recursive
		case "force":
			cfg.Force = f.force
		case "delete-source":
			cfg.DeleteSource = f.deleteSrc
		case "hide-source":
			cfg.HideSource = f.hideSrc
		case "dry-run":
			cfg.DryRun = f.dryRun
		case "no-report":
			cfg.ReportEnabled = !f.noReport
		case "report-dir":
			cfg.ReportDir = f.reportDir
		case "no-journal":
			cfg.JournalEnabled = !f.noJournal
		case "journal":
			cfg.JournalPath = f.journalPath
		case "errors-only":
			cfg.JournalErrorsOnly = f.errorsOnly
		case "verify":
			cfg.VerifyOutput = f.verify
		case "extensions":
			cfg.Extensions = splitList(f.extensions)
		case "log-level":
			cfg.LogLevel = f.logLevel
		}
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func initConfig(path string, force bool) int {
	if path == "" {
		path = config.DefaultFile
	}
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(os.Stderr, "topdf: %s exists (use -force to overwrite)\n", path)
		return exitUsage
	}
	if err := config.Default().Save(path); err != nil {
		fmt.Fprintln(os.Stderr, "topdf:", err)
		return exitUsage
	}
	fmt.Println("wrote", path)
	return exitOK
}

func convertTree(ctx context.Context, cfg *config.Config, engines []convert.Engine, logger *slog.Logger, root string) int {
	abs, err := filepath.Abs(root)
	if err != nil {
		fmt.Fprintln(os.Stderr, "topdf:", err)
		return exitUsage
	}

	conv := convert.New(cfg, engines)
	logger.Info("topdf: engines", "available", conv.Available())

	opts := walk.Options{Exclude: []string{cfg.LogFile}}
	if cfg.JournalEnabled && !cfg.DryRun {
		path := cfg.JournalFile(abs)
		j, err := journal.Open(path, journal.WithErrorsOnly(cfg.JournalErrorsOnly), journal.WithLogger(logger))
		if err != nil {
			logger.Warn("topdf: journal disabled", "path", path, "error", err)
		} else {
			defer j.Close()
			opts.Recorder = j
			opts.Exclude = append(opts.Exclude, path)
		}
	}

	w := walk.New(cfg, conv, expand.New(cfg), opts)
	report, err := w.Run(ctx, abs)
	if report == nil {
		logger.Error("topdf: run failed", "root", abs, "error", err)
		return exitUsage
	}

	report.WriteSummary(os.Stdout)
	if p := w.ReportPath(); p != "" {
		fmt.Println("Report:", p)
	}

	switch {
	case errors.Is(err, walk.ErrInterrupted):
		return exitInterrupted
	case err != nil:
		logger.Error("topdf: stopped", "error", err)
		return exitUsage
	case report.HasErrors():
		return exitErrors
	}
	return exitOK
}

func serveMCP(ctx context.Context, cfg *config.Config, engines []convert.Engine, logger *slog.Logger) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "topdf", Version: version}, nil)
	docpipe.RegisterMCP(srv, logger)
	walk.RegisterMCP(srv, cfg, engines)

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	path := cfg.JournalFile(wd)
	if j, err := journal.OpenReadOnly(path, journal.WithLogger(logger)); err == nil {
		defer j.Close()
		j.RegisterMCP(srv)
	} else {
		logger.Info("topdf: journal tools disabled", "path", path, "error", err)
	}

	logger.Info("topdf: mcp server on stdio")
	return srv.Run(ctx, &mcp.StdioTransport{})
}

// newLogger builds the process logger. "auto" picks text on a terminal and
// JSON otherwise. A configured log_file receives JSON lines as well.
func newLogger(cfg *config.Config, format string) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var h slog.Handler
	switch format {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "auto", "":
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			h = slog.NewTextHandler(os.Stderr, opts)
		} else {
			h = slog.NewJSONHandler(os.Stderr, opts)
		}
	default:
		return nil, nil, fmt.Errorf("log-format %q (use auto, text or json)", format)
	}

	closeFn := func() {}
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		h = teeHandler{h, slog.NewJSONHandler(file, opts)}
		closeFn = func() { file.Close() }
	}
	return slog.New(h), closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teeHandler sends every record to all its handlers.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
