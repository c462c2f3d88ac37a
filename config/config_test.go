package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topdf.yaml")
	os.WriteFile(path, []byte(`
method: libreoffice
keep_extension: false
recursive: true
office_timeout: 15
extensions: [docx, ".TXT"]
`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Method != MethodLibreOffice {
		t.Fatalf("method: got %q", cfg.Method)
	}
	if cfg.KeepExtension {
		t.Fatal("keep_extension should be false")
	}
	if !cfg.Recursive {
		t.Fatal("recursive should be true")
	}
	if cfg.Timeout(MethodOffice) != 15*time.Second {
		t.Fatalf("office timeout: got %v", cfg.Timeout(MethodOffice))
	}
	// Unset fields keep their defaults.
	if cfg.LibreOfficeTimeout != 60 || !cfg.ReportEnabled {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
	if !cfg.Allowed(".docx") || !cfg.Allowed(".txt") || cfg.Allowed(".xlsx") {
		t.Fatalf("extensions not normalised: %v", cfg.Extensions)
	}
}

func TestLoadConfig_MissingDefaultFile(t *testing.T) {
	wd, _ := os.Getwd()
	t.Cleanup(func() { os.Chdir(wd) })
	os.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Method != MethodAuto || !cfg.KeepExtension {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"bad method", func(c *Config) { c.Method = "ocr" }},
		{"delete and hide", func(c *Config) { c.DeleteSource = true; c.HideSource = true }},
		{"zero timeout", func(c *Config) { c.BrowserTimeout = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mut(cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", tt.name, err)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDestPath(t *testing.T) {
	cfg := Default()
	if got := cfg.DestPath(filepath.Join("a", "report.docx")); got != filepath.Join("a", "report.docx.pdf") {
		t.Fatalf("keep extension: got %q", got)
	}
	cfg.KeepExtension = false
	if got := cfg.DestPath(filepath.Join("a", "report.docx")); got != filepath.Join("a", "report.pdf") {
		t.Fatalf("strip extension: got %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", DefaultFile)
	cfg := Default()
	cfg.Method = MethodReportLab
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Method != MethodReportLab {
		t.Fatalf("method: got %q", loaded.Method)
	}
}

func TestJournalFile(t *testing.T) {
	cfg := Default()
	if got := cfg.JournalFile("/data"); got != filepath.Join("/data", DefaultJournalFile) {
		t.Fatalf("default journal: %s", got)
	}
	cfg.JournalPath = "/var/lib/topdf/journal.db"
	if got := cfg.JournalFile("/data"); got != cfg.JournalPath {
		t.Fatalf("explicit journal: %s", got)
	}
}
