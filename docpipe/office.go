// CLAUDE:SUMMARY Text extraction from OOXML/ODF packages (.docx, .odt, .xlsx) via archive/zip + encoding/xml.
package docpipe

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxXMLDepth bounds element nesting in package parts.
const maxXMLDepth = 256

type depthDecoder struct {
	*xml.Decoder
	depth int
}

func newDecoder(r io.Reader) *depthDecoder {
	return &depthDecoder{Decoder: xml.NewDecoder(r)}
}

func (d *depthDecoder) Token() (xml.Token, error) {
	tok, err := d.Decoder.Token()
	switch tok.(type) {
	case xml.StartElement:
		d.depth++
		if d.depth > maxXMLDepth {
			return nil, fmt.Errorf("xml nesting depth exceeds %d", maxXMLDepth)
		}
	case xml.EndElement:
		d.depth--
	}
	return tok, err
}

// openMember opens the named part of a zip package.
func openMember(r *zip.ReadCloser, name string) (io.ReadCloser, error) {
	for _, f := range r.File {
		if f.Name == name {
			if f.Flags&0x1 != 0 {
				return nil, fmt.Errorf("%s: package is encrypted", name)
			}
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%s not found in package", name)
}

// extractDocx reads word/document.xml. Tabs and breaks inside a paragraph are
// kept, and each table row becomes one tab-separated line.
func extractDocx(path string) (string, []Section, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, fmt.Errorf("open package: %w", err)
	}
	defer r.Close()

	rc, err := openMember(r, "word/document.xml")
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	var (
		sections []Section
		title    string
		para     strings.Builder
		cell     []string // paragraphs of the current table cell
		row      []string // cells of the current table row
		style    string
		inText   bool
		depth    int // table nesting
	)

	dec := newDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				depth++
			case "p":
				para.Reset()
				style = ""
			case "pStyle":
				style = attr(t, "val")
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				if depth > 0 {
					if text != "" {
						cell = append(cell, text)
					}
					continue
				}
				if text == "" {
					continue
				}
				if level := headingLevel(style); level > 0 {
					if title == "" {
						title = text
					}
					sections = append(sections, Section{Title: text, Level: level, Text: text, Type: "heading"})
				} else {
					sections = append(sections, Section{Text: text, Type: "paragraph"})
				}
			case "tc":
				row = append(row, strings.Join(cell, " "))
				cell = cell[:0]
			case "tr":
				if line := strings.TrimRight(strings.Join(row, "\t"), "\t"); line != "" {
					sections = append(sections, Section{Text: line, Type: "table"})
				}
				row = row[:0]
			case "tbl":
				depth--
			}
		}
	}
	return title, sections, nil
}

// headingLevel maps Word paragraph styles (Heading1, Titre2, Title) to 1-6.
func headingLevel(style string) int {
	s := strings.ToLower(style)
	switch s {
	case "title":
		return 1
	case "subtitle":
		return 2
	}
	for _, prefix := range []string{"heading", "titre", "überschrift", "berschrift"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= 6 {
				return n
			}
		}
	}
	return 0
}

// extractODT reads content.xml of an OpenDocument text package.
func extractODT(path string) (string, []Section, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, fmt.Errorf("open package: %w", err)
	}
	defer r.Close()

	rc, err := openMember(r, "content.xml")
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	var (
		sections []Section
		title    string
		buf      strings.Builder
		level    int
		open     bool
		lists    int
	)

	dec := newDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("parse content.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "h":
				open, level = true, 1
				buf.Reset()
				if n, err := strconv.Atoi(attr(t, "outline-level")); err == nil {
					level = n
				}
			case "p":
				open, level = true, 0
				buf.Reset()
			case "tab":
				buf.WriteByte('\t')
			case "line-break":
				buf.WriteByte('\n')
			case "s":
				buf.WriteByte(' ')
			case "list":
				lists++
			}
		case xml.CharData:
			if open {
				buf.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "h", "p":
				open = false
				text := strings.TrimSpace(buf.String())
				if text == "" {
					continue
				}
				switch {
				case t.Name.Local == "h":
					if title == "" {
						title = text
					}
					sections = append(sections, Section{Title: text, Level: level, Text: text, Type: "heading"})
				case lists > 0:
					sections = append(sections, Section{Text: "- " + text, Type: "list"})
				default:
					sections = append(sections, Section{Text: text, Type: "paragraph"})
				}
			case "list":
				lists--
			}
		}
	}
	return title, sections, nil
}

// extractXLSX renders every worksheet as tab-separated rows. Shared strings
// are resolved; formulas contribute their cached value.
func extractXLSX(path string) (string, []Section, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, fmt.Errorf("open package: %w", err)
	}
	defer r.Close()

	shared, err := readSharedStrings(r)
	if err != nil {
		return "", nil, err
	}

	var sheets []string
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			sheets = append(sheets, f.Name)
		}
	}
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("no worksheets in package")
	}

	var sections []Section
	for i, name := range sheets {
		rows, err := readSheet(r, name, shared)
		if err != nil {
			return "", nil, err
		}
		heading := fmt.Sprintf("Sheet %d", i+1)
		sections = append(sections, Section{Title: heading, Level: 2, Text: heading, Type: "heading"})
		if len(rows) > 0 {
			sections = append(sections, Section{Text: strings.Join(rows, "\n"), Type: "table"})
		}
	}
	return "", sections, nil
}

func readSharedStrings(r *zip.ReadCloser) ([]string, error) {
	rc, err := openMember(r, "xl/sharedStrings.xml")
	if err != nil {
		// Workbooks with only numbers have no shared string table.
		return nil, nil
	}
	defer rc.Close()

	var out []string
	var cur strings.Builder
	inT := false
	dec := newDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse sharedStrings.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "si" {
				cur.Reset()
			}
			inT = t.Name.Local == "t"
		case xml.CharData:
			if inT {
				cur.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inT = false
			}
			if t.Name.Local == "si" {
				out = append(out, cur.String())
			}
		}
	}
}

func readSheet(r *zip.ReadCloser, name string, shared []string) ([]string, error) {
	rc, err := openMember(r, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var (
		rows     []string
		cells    []string
		cellType string
		val      strings.Builder
		inV      bool
	)
	dec := newDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				cells = cells[:0]
			case "c":
				cellType = attr(t, "t")
				val.Reset()
			case "v", "t":
				inV = true
			}
		case xml.CharData:
			if inV {
				val.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inV = false
			case "c":
				v := val.String()
				if cellType == "s" {
					if idx, err := strconv.Atoi(v); err == nil && idx >= 0 && idx < len(shared) {
						v = shared[idx]
					}
				}
				cells = append(cells, v)
			case "row":
				line := strings.TrimRight(strings.Join(cells, "\t"), "\t")
				if line != "" {
					rows = append(rows, line)
				}
			}
		}
	}
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
