package docpipe

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// readDecoded reads a text file and converts it to UTF-8. A BOM or a valid
// UTF-8 body wins; otherwise the charset sniffer picks a legacy encoding
// (windows-1252 for most Western exports).
func readDecoded(path, contentType string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return data[3:], nil
	}
	if utf8.Valid(data) {
		return data, nil
	}
	enc, name, _ := charset.DetermineEncoding(data, contentType)
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return out, nil
}

// extractText keeps line structure: one paragraph per blank-line separated
// block, lines inside a block preserved.
func extractText(path string) (string, []Section, error) {
	data, err := readDecoded(path, "text/plain")
	if err != nil {
		return "", nil, err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var sections []Section
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimRight(block, " \t\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		sections = append(sections, Section{Text: strings.Trim(block, "\n"), Type: "paragraph"})
	}
	if len(sections) == 0 {
		return "", nil, nil
	}
	return firstLine(sections[0].Text), sections, nil
}

func extractMarkdown(path string) (string, []Section, error) {
	data, err := readDecoded(path, "text/plain")
	if err != nil {
		return "", nil, err
	}
	title, sections := parseMarkdown(string(data))
	return title, sections, nil
}

// parseMarkdown splits on ATX headings; fenced blocks become code sections.
func parseMarkdown(src string) (string, []Section) {
	var (
		sections []Section
		title    string
		buf      []string
		fenced   bool
	)
	flush := func(kind string) {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		if text != "" {
			sections = append(sections, Section{Text: text, Type: kind})
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if fenced {
				flush("code")
			} else {
				flush("paragraph")
			}
			fenced = !fenced
			continue
		}
		if fenced {
			buf = append(buf, line)
			continue
		}
		if level := atxLevel(trimmed); level > 0 {
			flush("paragraph")
			heading := strings.TrimSpace(strings.Trim(trimmed, "#"))
			if heading == "" {
				continue
			}
			if title == "" {
				title = heading
			}
			sections = append(sections, Section{Title: heading, Level: level, Text: heading, Type: "heading"})
			continue
		}
		if trimmed == "" {
			flush("paragraph")
			continue
		}
		buf = append(buf, trimmed)
	}
	if fenced {
		flush("code")
	} else {
		flush("paragraph")
	}
	return title, sections
}

func atxLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || (n < len(line) && line[n] != ' ') {
		return 0
	}
	return n
}

// extractXML re-indents the document so the rendered page shows its structure.
// The prolog's encoding declaration drives decoding.
func extractXML(path string) (string, []Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel

	var out bytes.Buffer
	enc := xml.NewEncoder(&out)
	enc.Indent("", "  ")
	var root string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed XML is still rendered, verbatim.
			return "", []Section{{Text: string(data), Type: "code"}}, nil
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root == "" {
				root = t.Name.Local
			}
		case xml.CharData:
			if len(bytes.TrimSpace(t)) == 0 {
				continue
			}
			tok = xml.CharData(bytes.TrimSpace(t))
		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
		}
		if err := enc.EncodeToken(xml.CopyToken(tok)); err != nil {
			return "", []Section{{Text: string(data), Type: "code"}}, nil
		}
	}
	if err := enc.Flush(); err != nil {
		return "", nil, err
	}
	return root, []Section{{Text: out.String(), Type: "code"}}, nil
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
