// CLAUDE:SUMMARY Outcome, Status, Strategy and AuthError types produced by the Single-Item Converter.
package convert

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/topdf/docpipe"
)

// Status is the terminal state of one work item.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusSkippedPDF      Status = "skipped_pdf"
	StatusSkippedPassword Status = "skipped_password"
	StatusSkippedType     Status = "skipped_type"
	StatusSkippedExists   Status = "skipped_exists"
	StatusError           Status = "error"
)

// Statuses lists every status in report order.
var Statuses = []Status{
	StatusSuccess, StatusSkippedPDF, StatusSkippedPassword,
	StatusSkippedType, StatusSkippedExists, StatusError,
}

// IsSkip reports whether s is one of the skipped_* statuses.
func (s Status) IsSkip() bool {
	switch s {
	case StatusSkippedPDF, StatusSkippedPassword, StatusSkippedType, StatusSkippedExists:
		return true
	}
	return false
}

// Strategy names a conversion engine.
type Strategy string

const (
	StrategyOffice      Strategy = "office"
	StrategyLibreOffice Strategy = "libreoffice"
	StrategyReportLab   Strategy = "reportlab"
	StrategyBrowser     Strategy = "browser"
	StrategyImage       Strategy = "image"
)

// Attempt records one engine call.
type Attempt struct {
	Strategy Strategy      `json:"strategy"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Auth     bool          `json:"auth,omitempty"`
}

// Outcome is the immutable record of what happened to one work item.
type Outcome struct {
	SourcePath string        `json:"source_path"`
	OutputPath string        `json:"output_path,omitempty"`
	Kind       docpipe.Kind  `json:"kind"`
	Ext        string        `json:"ext"`
	Status     Status        `json:"status"`
	Method     Strategy      `json:"method,omitempty"`
	Duration   time.Duration `json:"duration"`
	Detail     string        `json:"detail,omitempty"`
	Attempts   []Attempt     `json:"attempts,omitempty"`
	SourceSize int64         `json:"source_size"`
	OutputSize int64         `json:"output_size"`
	DryRun     bool          `json:"dry_run,omitempty"`

	// Fatal marks an environment failure (read-only or full destination)
	// that must stop the walk.
	Fatal bool `json:"fatal,omitempty"`
}

// Sentinel errors.
var (
	// ErrNoStrategy is reported when a forced method cannot handle the item kind.
	ErrNoStrategy = errors.New("no conversion strategy for this kind")
	// ErrFalseSuccess is reported when an engine returned nil but left no usable PDF.
	ErrFalseSuccess = errors.New("engine reported success without a valid PDF")
	// ErrUnavailable is reported for engines missing on this host.
	ErrUnavailable = errors.New("engine not available")
)

// AuthError is returned by engines and expanders that detect an encryption
// or password obstacle structurally rather than from an error message.
type AuthError struct {
	Path   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	msg := "password protected"
	if e.Reason != "" {
		msg = e.Reason
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }
