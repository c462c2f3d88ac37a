package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/hazyhaar/topdf/convert"
	"github.com/hazyhaar/topdf/docpipe"
)

// Renderer is the rendering-library fallback: the source is reduced to text
// by docpipe and laid out on A4 pages. Layout fidelity is not a goal; the
// content is.
type Renderer struct {
	logger *slog.Logger
}

func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

func (e *Renderer) Name() convert.Strategy { return convert.StrategyReportLab }
func (e *Renderer) Available() bool        { return true }

func (e *Renderer) Convert(ctx context.Context, in, out string) error {
	if err := probe(in); err != nil {
		return err
	}
	doc, err := docpipe.Extract(ctx, in)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("topdf", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("") // cp1252
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, tr(doc.Title), "", "L", false)
	pdf.Ln(4)

	if len(doc.Sections) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 5, "(empty document)", "", "L", false)
	}
	for i, s := range doc.Sections {
		if i%64 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		switch s.Type {
		case "heading":
			if i == 0 && s.Text == doc.Title {
				continue
			}
			size := 15 - float64(s.Level)
			if size < 10 {
				size = 10
			}
			pdf.Ln(2)
			pdf.SetFont("Helvetica", "B", size)
			pdf.MultiCell(0, size*0.5, tr(s.Text), "", "L", false)
			pdf.Ln(1)
		case "code", "table":
			pdf.SetFont("Courier", "", 8)
			pdf.MultiCell(0, 4, tr(expandTabs(s.Text)), "", "L", false)
			pdf.Ln(2)
		default:
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, tr(s.Text), "", "L", false)
			pdf.Ln(2)
		}
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render: layout: %w", err)
	}
	if err := pdf.OutputFileAndClose(out); err != nil {
		return fmt.Errorf("render: write: %w", err)
	}
	return nil
}

func expandTabs(s string) string {
	var b strings.Builder
	col := 0
	for _, r := range s {
		switch r {
		case '\t':
			n := 8 - col%8
			b.WriteString(strings.Repeat(" ", n))
			col += n
		case '\n':
			b.WriteRune(r)
			col = 0
		default:
			b.WriteRune(r)
			col++
		}
	}
	return b.String()
}
