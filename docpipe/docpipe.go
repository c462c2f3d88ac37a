// CLAUDE:SUMMARY Classifies files into WorkItem kinds and dispatches text extraction for the rendering fallback.
// Package docpipe classifies files for the topdf pipeline and extracts a
// plain-text rendition of documents for the rendering-library fallback.
//
// Classification is by extension only (compound archive extensions such as
// .tar.gz are recognised). Text extraction supports:
//   - .docx, .odt: archive/zip + encoding/xml
//   - .xlsx: shared strings + sheet cells
//   - .txt, .log, .csv, .md: charset-detected plain text
//   - .html, .htm, .xhtml: html-to-markdown rendition
//   - .xml: re-indented source
//
// Usage:
//
//	item := docpipe.Classify("/data/in/report.docx")
//	doc, err := docpipe.Extract(ctx, item.Path)
package docpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MaxExtractSize bounds files read for text extraction (64 MB).
const MaxExtractSize = 64 << 20

var kindByExt = map[string]Kind{
	".doc": KindOfficeDoc, ".docx": KindOfficeDoc, ".rtf": KindOfficeDoc, ".odt": KindOfficeDoc,
	".xls": KindOfficeDoc, ".xlsx": KindOfficeDoc, ".xlsm": KindOfficeDoc, ".xlsb": KindOfficeDoc, ".ods": KindOfficeDoc,
	".ppt": KindOfficeDoc, ".pptx": KindOfficeDoc, ".odp": KindOfficeDoc,

	".jpg": KindImage, ".jpeg": KindImage, ".png": KindImage, ".bmp": KindImage,
	".tif": KindImage, ".tiff": KindImage, ".webp": KindImage, ".gif": KindImage,

	".htm": KindMarkup, ".html": KindMarkup, ".xhtml": KindMarkup, ".xml": KindMarkup,

	".txt": KindText, ".log": KindText, ".csv": KindText, ".md": KindText, ".markdown": KindText,

	".msg": KindMail, ".eml": KindMail,

	".zip": KindArchive, ".tar": KindArchive, ".tgz": KindArchive, ".tar.gz": KindArchive,
	".tbz2": KindArchive, ".tar.bz2": KindArchive, ".7z": KindArchive, ".rar": KindArchive,

	".pdf": KindPDF,
}

// Ext returns the lower-case extension of path, recognising .tar.gz and .tar.bz2.
func Ext(path string) string {
	name := strings.ToLower(filepath.Base(path))
	for _, compound := range []string{".tar.gz", ".tar.bz2"} {
		if strings.HasSuffix(name, compound) && len(name) > len(compound) {
			return compound
		}
	}
	return filepath.Ext(name)
}

// Classify returns the WorkItem for path.
func Classify(path string) WorkItem {
	ext := Ext(path)
	kind, ok := kindByExt[ext]
	if !ok {
		kind = KindUnsupported
	}
	return WorkItem{Path: path, Kind: kind, Ext: ext}
}

// Extensions returns the known extensions grouped by kind, sorted.
func Extensions() map[Kind][]string {
	out := make(map[Kind][]string)
	for ext, k := range kindByExt {
		out[k] = append(out[k], ext)
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out
}

// CanExtract reports whether Extract supports the extension.
func CanExtract(ext string) bool {
	switch ext {
	case ".docx", ".odt", ".xlsx", ".xlsm",
		".txt", ".log", ".csv", ".md", ".markdown",
		".htm", ".html", ".xhtml", ".xml":
		return true
	}
	return false
}

// Extract returns a text rendition of the document at path.
func Extract(ctx context.Context, path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxExtractSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), MaxExtractSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := Ext(path)
	var title string
	var sections []Section

	switch ext {
	case ".docx":
		title, sections, err = extractDocx(path)
	case ".odt":
		title, sections, err = extractODT(path)
	case ".xlsx", ".xlsm":
		title, sections, err = extractXLSX(path)
	case ".md", ".markdown":
		title, sections, err = extractMarkdown(path)
	case ".txt", ".log", ".csv":
		title, sections, err = extractText(path)
	case ".htm", ".html", ".xhtml":
		title, sections, err = extractHTMLFile(path)
	case ".xml":
		title, sections, err = extractXML(path)
	default:
		return nil, fmt.Errorf("no text extractor for %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s (%s): %w", path, ext, err)
	}
	if title == "" {
		title = filepath.Base(path)
	}
	return &Document{Path: path, Title: title, Sections: sections}, nil
}
