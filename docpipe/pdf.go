// CLAUDE:SUMMARY PDF inspection and structural validation via pdfcpu (page count, encryption, relaxed validation).
package docpipe

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFMagic is the header every PDF file starts with.
var PDFMagic = []byte("%PDF-")

// PDFInfo summarises an existing PDF.
type PDFInfo struct {
	Pages     int    `json:"pages"`
	Version   string `json:"version,omitempty"`
	Encrypted bool   `json:"encrypted"`
}

// HasPDFMagic reports whether the file at path is non-empty and starts with %PDF-.
func HasPDFMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(PDFMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, PDFMagic), nil
}

// InspectPDF reads the cross-reference table of path. PDFs protected by a
// user password fail here with pdfcpu's password error.
func InspectPDF(path string) (*PDFInfo, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	info := &PDFInfo{
		Pages:     ctx.PageCount,
		Encrypted: ctx.Encrypt != nil,
	}
	if ctx.HeaderVersion != nil {
		info.Version = ctx.HeaderVersion.String()
	}
	return info, nil
}

// ValidatePDF runs pdfcpu's relaxed structural validation.
func ValidatePDF(path string) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	return nil
}
