package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/topdf/audit"
	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/engine"
)

func TestApplyFlags_OnlyGiven(t *testing.T) {
	fs := flag.NewFlagSet("topdf", flag.ContinueOnError)
	var f flags
	registerFlags(fs, &f)
	if err := fs.Parse([]string{"-recursive", "-keep-extension=false", "-extensions", ".DOCX, txt ,", "-no-report"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Method = config.MethodLibreOffice
	cfg.VerifyOutput = false
	applyFlags(fs, cfg, &f)
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if !cfg.Recursive || cfg.KeepExtension || cfg.ReportEnabled {
		t.Errorf("given flags not applied: %+v", cfg)
	}
	if cfg.Method != config.MethodLibreOffice || cfg.VerifyOutput {
		t.Errorf("defaults of unset flags overrode the file: method=%s verify=%v", cfg.Method, cfg.VerifyOutput)
	}
	if strings.Join(cfg.Extensions, ",") != ".docx,.txt" {
		t.Errorf("extensions: %v", cfg.Extensions)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTeeHandler(t *testing.T) {
	var info, debug bytes.Buffer
	h := teeHandler{
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	logger := slog.New(h).With("run_id", "r1")
	logger.Debug("quiet")
	logger.Info("loud", "n", 1)

	if strings.Contains(info.String(), "quiet") || !strings.Contains(info.String(), "run_id=r1") {
		t.Errorf("text handler: %s", info.String())
	}
	if !strings.Contains(debug.String(), `"msg":"quiet"`) || !strings.Contains(debug.String(), `"run_id":"r1"`) {
		t.Errorf("json handler: %s", debug.String())
	}
}

func TestNewLogger_File(t *testing.T) {
	cfg := config.Default()
	cfg.LogFile = filepath.Join(t.TempDir(), "topdf.log")
	logger, closeLog, err := newLogger(cfg, "text")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello")
	closeLog()
	data, _ := os.ReadFile(cfg.LogFile)
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("log file: %s", data)
	}
	if _, _, err := newLogger(cfg, "xml"); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topdfrc.yaml")
	if code := initConfig(path, false); code != exitOK {
		t.Fatalf("first write: %d", code)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if code := initConfig(path, false); code != exitUsage {
		t.Fatalf("overwrite without force: %d", code)
	}
	if code := initConfig(path, true); code != exitOK {
		t.Fatalf("overwrite with force: %d", code)
	}
}

func quietConfig() *config.Config {
	cfg := config.Default()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func TestConvertTree_ExitCodes(t *testing.T) {
	root := t.TempDir()
	cfg := quietConfig()
	if code := convertTree(context.Background(), cfg, engine.All(cfg), cfg.Logger, root); code != exitOK {
		t.Fatalf("empty tree: %d", code)
	}
	if _, err := os.Stat(filepath.Join(root, config.DefaultJournalFile)); err != nil {
		t.Errorf("journal not created: %v", err)
	}
	entries, _ := os.ReadDir(root)
	var reports int
	for _, e := range entries {
		if audit.IsReportFile(e.Name()) {
			reports++
		}
	}
	if reports != 1 {
		t.Errorf("%d report files", reports)
	}

	os.WriteFile(filepath.Join(root, "broken.zip"), []byte("not a zip"), 0644)
	if code := convertTree(context.Background(), cfg, engine.All(cfg), cfg.Logger, root); code != exitErrors {
		t.Fatalf("tree with an error: %d", code)
	}

	if code := convertTree(context.Background(), cfg, nil, cfg.Logger, filepath.Join(root, "missing")); code != exitUsage {
		t.Fatalf("missing root: %d", code)
	}
}

func TestConvertTree_Interrupted(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644)
	cfg := quietConfig()
	cfg.JournalEnabled = false
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if code := convertTree(ctx, cfg, engine.All(cfg), cfg.Logger, root); code != exitInterrupted {
		t.Fatalf("code %d", code)
	}
}
