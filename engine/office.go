package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/docpipe"
)

// invalidPassword is handed to every Open call: unprotected documents ignore
// it, protected ones fail immediately instead of prompting.
const invalidPassword = "__TOPDF_INVALID__"

// officeScript drives Word, Excel or PowerPoint through COM. Paths and the
// application are passed through the environment to avoid quoting.
const officeScript = `
$ErrorActionPreference = 'Stop'
$in = $env:TOPDF_IN
$out = $env:TOPDF_OUT
$pw = $env:TOPDF_PW
switch ($env:TOPDF_APP) {
  'word' {
    $app = New-Object -ComObject Word.Application
    try {
      $app.Visible = $false
      $app.DisplayAlerts = 0
      $doc = $app.Documents.Open($in, $false, $true, $false, $pw, $pw, $false, $pw)
      try { $doc.ExportAsFixedFormat($out, 17) } finally { $doc.Close(0) }
    } finally { $app.Quit(); [void][Runtime.InteropServices.Marshal]::ReleaseComObject($app) }
  }
  'excel' {
    $app = New-Object -ComObject Excel.Application
    try {
      $app.Visible = $false
      $app.DisplayAlerts = $false
      $wb = $app.Workbooks.Open($in, 0, $true, 5, $pw, $pw)
      try { $wb.ExportAsFixedFormat(0, $out) } finally { $wb.Close($false) }
    } finally { $app.Quit(); [void][Runtime.InteropServices.Marshal]::ReleaseComObject($app) }
  }
  'powerpoint' {
    $app = New-Object -ComObject PowerPoint.Application
    try {
      $pres = $app.Presentations.Open($in + '::' + $pw, -1, 0, 0)
      try { $pres.SaveAs($out, 32) } finally { $pres.Close() }
    } finally { $app.Quit(); [void][Runtime.InteropServices.Marshal]::ReleaseComObject($app) }
  }
  default { throw "unsupported application" }
}
`

var officeApps = map[string]string{
	".doc": "word", ".docx": "word", ".rtf": "word", ".odt": "word",
	".xls": "excel", ".xlsx": "excel", ".xlsm": "excel", ".xlsb": "excel", ".ods": "excel",
	".ppt": "powerpoint", ".pptx": "powerpoint", ".odp": "powerpoint",
}

// Office converts through native Microsoft Office automation. Each call
// starts its own PowerShell process and its own Office application instance.
// Only available on Windows.
type Office struct {
	bin    string
	logger *slog.Logger
}

// NewOffice locates PowerShell.
func NewOffice(path string, logger *slog.Logger) *Office {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Office{logger: logger}
	if runtime.GOOS == "windows" {
		e.bin = findBinary(path, []string{"powershell.exe", "pwsh.exe"}, nil)
	}
	return e
}

func (e *Office) Name() convert.Strategy { return convert.StrategyOffice }
func (e *Office) Available() bool        { return e.bin != "" }

func (e *Office) Convert(ctx context.Context, in, out string) error {
	app, ok := officeApps[docpipe.Ext(in)]
	if !ok {
		return fmt.Errorf("office: no application for %q", docpipe.Ext(in))
	}
	absIn, err := filepath.Abs(in)
	if err != nil {
		return err
	}
	absOut, err := filepath.Abs(out)
	if err != nil {
		return err
	}
	env := []string{
		"TOPDF_IN=" + absIn,
		"TOPDF_OUT=" + absOut,
		"TOPDF_APP=" + app,
		"TOPDF_PW=" + invalidPassword,
	}
	if err := run(ctx, e.logger, env, e.bin, "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", officeScript); err != nil {
		return fmt.Errorf("office (%s): %w", app, err)
	}
	return nil
}
