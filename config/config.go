// CLAUDE:SUMMARY Configuration snapshot for topdf: YAML loading, defaults, validation and output naming.
// Package config holds the read-only configuration snapshot consumed by every
// topdf component. Values come from defaults, then an optional YAML file
// (.topdfrc or -config), then command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = ".topdfrc"

// DefaultJournalFile is the journal database created in the walked root when
// journal_path is not set.
const DefaultJournalFile = ".topdf-journal.db"

// Conversion methods.
const (
	MethodAuto        = "auto"
	MethodOffice      = "office"
	MethodLibreOffice = "libreoffice"
	MethodReportLab   = "reportlab"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the configuration snapshot. Components treat it as read-only.
type Config struct {
	Method        string `yaml:"method"`
	KeepExtension bool   `yaml:"keep_extension"`
	Recursive     bool   `yaml:"recursive"`
	Force         bool   `yaml:"force"`
	DeleteSource  bool   `yaml:"delete_source"`
	HideSource    bool   `yaml:"hide_source"`
	DryRun        bool   `yaml:"dry_run"`

	// Timeouts in seconds.
	OfficeTimeout      int `yaml:"office_timeout"`
	LibreOfficeTimeout int `yaml:"libreoffice_timeout"`
	BrowserTimeout     int `yaml:"browser_timeout"`

	// External engine locations. Empty = detect.
	LibreOfficePath string `yaml:"libreoffice_path,omitempty"`
	BrowserPath     string `yaml:"browser_path,omitempty"`
	PowerShellPath  string `yaml:"powershell_path,omitempty"`

	// VerifyOutput runs a structural PDF validation on every produced file.
	VerifyOutput bool `yaml:"verify_output"`

	ReportEnabled bool   `yaml:"report_enabled"`
	ReportDir     string `yaml:"report_dir,omitempty"`

	JournalEnabled    bool   `yaml:"journal_enabled"`
	JournalPath       string `yaml:"journal_path,omitempty"`
	JournalErrorsOnly bool   `yaml:"journal_errors_only"`

	// Extraction guards.
	MaxExtractBytes int64 `yaml:"max_extract_bytes"`
	MaxEntries      int   `yaml:"max_entries"`

	// Extensions restricts processing to these extensions (with dot). Empty = all.
	Extensions []string `yaml:"extensions,omitempty"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`

	Logger *slog.Logger `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Method:             MethodAuto,
		KeepExtension:      true,
		OfficeTimeout:      60,
		LibreOfficeTimeout: 60,
		BrowserTimeout:     30,
		VerifyOutput:       true,
		ReportEnabled:      true,
		JournalEnabled:     true,
		MaxExtractBytes:    2 << 30,
		MaxEntries:         50_000,
		LogLevel:           "info",
	}
}

func (c *Config) defaults() {
	if c.Method == "" {
		c.Method = MethodAuto
	}
	if c.OfficeTimeout <= 0 {
		c.OfficeTimeout = 60
	}
	if c.LibreOfficeTimeout <= 0 {
		c.LibreOfficeTimeout = 60
	}
	if c.BrowserTimeout <= 0 {
		c.BrowserTimeout = 30
	}
	if c.MaxExtractBytes <= 0 {
		c.MaxExtractBytes = 2 << 30
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 50_000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Load reads path over the defaults. An empty path looks for DefaultFile in
// the working directory and silently falls back to defaults when absent.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg.defaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, cfg.Validate()
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks enum values and mutually exclusive options.
func (c *Config) Validate() error {
	switch c.Method {
	case MethodAuto, MethodOffice, MethodLibreOffice, MethodReportLab:
	default:
		return fmt.Errorf("%w: method %q (use auto, office, libreoffice or reportlab)", ErrInvalid, c.Method)
	}
	if c.DeleteSource && c.HideSource {
		return fmt.Errorf("%w: delete_source and hide_source are mutually exclusive", ErrInvalid)
	}
	if c.OfficeTimeout <= 0 || c.LibreOfficeTimeout <= 0 || c.BrowserTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be > 0", ErrInvalid)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	for i, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			c.Extensions[i] = "." + ext
		}
		c.Extensions[i] = strings.ToLower(c.Extensions[i])
	}
	return nil
}

// Timeout returns the engine timeout for a method name.
func (c *Config) Timeout(method string) time.Duration {
	switch method {
	case MethodOffice:
		return time.Duration(c.OfficeTimeout) * time.Second
	case "browser":
		return time.Duration(c.BrowserTimeout) * time.Second
	default:
		return time.Duration(c.LibreOfficeTimeout) * time.Second
	}
}

// Allowed reports whether ext passes the optional extension allow-list.
func (c *Config) Allowed(ext string) bool {
	if len(c.Extensions) == 0 {
		return true
	}
	ext = strings.ToLower(ext)
	for _, e := range c.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// DestPath returns the PDF path for source following the naming rule:
// document.docx -> document.docx.pdf with KeepExtension, document.pdf without.
func (c *Config) DestPath(source string) string {
	dir, name := filepath.Split(source)
	if c.KeepExtension {
		return filepath.Join(dir, name+".pdf")
	}
	return filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name))+".pdf")
}

// JournalFile returns the journal database path for a run over root.
func (c *Config) JournalFile(root string) string {
	if c.JournalPath != "" {
		return c.JournalPath
	}
	return filepath.Join(root, DefaultJournalFile)
}

// Snapshot returns a copy safe to hand to another run.
func (c *Config) Snapshot() Config {
	cp := *c
	cp.Extensions = append([]string(nil), c.Extensions...)
	return cp
}
