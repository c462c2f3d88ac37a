// CLAUDE:SUMMARY Shared mail-container logic: body rendition, attachment naming and the small-image filter.
package expand

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// mailMessage is the format-neutral view of an .msg or .eml file.
type mailMessage struct {
	Subject     string
	From        string
	To          string
	Cc          string
	Date        string
	Text        string
	HTML        string
	Attachments []attachment
}

type attachment struct {
	Name string
	MIME string
	Data []byte
}

// extByMIME names attachments that carry no usable filename.
var extByMIME = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/bmp":          ".bmp",
	"image/tiff":         ".tif",
	"image/webp":         ".webp",
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"text/plain":                   ".txt",
	"text/html":                    ".html",
	"text/xml":                     ".xml",
	"application/zip":              ".zip",
	"application/x-rar-compressed": ".rar",
	"application/x-7z-compressed":  ".7z",
	"message/rfc822":               ".eml",
}

func extForMIME(mt string) string {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if ext, ok := extByMIME[mt]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

var htmlPolicy = bluemonday.UGCPolicy()

var messageTmpl = template.Must(template.New("message").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Subject}}</title>
<style>
body { font-family: Arial, sans-serif; font-size: 11pt; line-height: 1.4; overflow-wrap: break-word; padding: 20px; }
pre { white-space: pre-wrap; overflow-wrap: break-word; }
img { max-width: 100%; height: auto; }
table { max-width: 100%; }
.header { background: #f5f5f5; padding: 10px; margin-bottom: 20px; }
.attachments { background: #fff3cd; padding: 10px; margin-top: 20px; }
</style>
</head>
<body>
<div class="header">
<strong>Subject:</strong> {{.Subject}}<br>
<strong>From:</strong> {{.From}}<br>
<strong>To:</strong> {{.To}}<br>
{{if .Cc}}<strong>Cc:</strong> {{.Cc}}<br>
{{end}}{{if .Date}}<strong>Date:</strong> {{.Date}}<br>
{{end}}</div>
{{if .Body}}{{.Body}}{{else}}<pre>{{.Text}}</pre>{{end}}
{{if .Attached}}<div class="attachments"><strong>Attachments:</strong><ul>
{{range .Attached}}<li>{{.}}</li>
{{end}}</ul></div>{{end}}
</body>
</html>
`))

// rendition returns the file written next to the attachments: message.html
// when the message has an HTML body, message.txt otherwise.
func (m *mailMessage) rendition(attached []string) (string, []byte, error) {
	if strings.TrimSpace(m.HTML) != "" {
		var buf bytes.Buffer
		err := messageTmpl.Execute(&buf, map[string]any{
			"Subject":  m.Subject,
			"From":     m.From,
			"To":       m.To,
			"Cc":       m.Cc,
			"Date":     m.Date,
			"Body":     template.HTML(htmlPolicy.Sanitize(m.HTML)),
			"Text":     m.Text,
			"Attached": attached,
		})
		if err != nil {
			return "", nil, fmt.Errorf("render message: %w", err)
		}
		return "message.html", buf.Bytes(), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\nFrom: %s\nTo: %s\n", m.Subject, m.From, m.To)
	if m.Cc != "" {
		fmt.Fprintf(&b, "Cc: %s\n", m.Cc)
	}
	if m.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", m.Date)
	}
	b.WriteString("\n")
	b.WriteString(strings.ReplaceAll(m.Text, "\r\n", "\n"))
	if len(attached) > 0 {
		b.WriteString("\n\nAttachments:\n")
		for _, name := range attached {
			b.WriteString("  " + name + "\n")
		}
	}
	return "message.txt", []byte(b.String()), nil
}

// emit hands the rendition and the significant attachments to visit.
// Attachment names are sanitized, flattened and made unique.
func (m *mailMessage) emit(ctx context.Context, visit visitFunc) error {
	used := map[string]bool{"message.html": true, "message.txt": true}
	type named struct {
		name string
		data []byte
	}
	var kept []named
	var attached []string
	for i, a := range m.Attachments {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = fmt.Sprintf("attachment_%d%s", i+1, extForMIME(a.MIME))
		} else if path.Ext(name) == "" && a.MIME != "" {
			name += extForMIME(a.MIME)
		}
		name = SanitizeName(name)
		if Ignored(name) {
			name = "_" + name
		}
		if small, why := insignificantImage(name, a.Data); small {
			if err := visit(entry{name: name, skip: why}); err != nil {
				return err
			}
			continue
		}
		name = uniqueName(used, name)
		kept = append(kept, named{name, a.Data})
		attached = append(attached, name)
	}

	rname, body, err := m.rendition(attached)
	if err != nil {
		return err
	}
	if err := visit(bytesEntry(rname, body)); err != nil {
		return err
	}
	for _, k := range kept {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := visit(bytesEntry(k.name, k.data)); err != nil {
			return err
		}
	}
	return nil
}

func bytesEntry(name string, data []byte) entry {
	return entry{
		name: name,
		size: int64(len(data)),
		open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// uniqueName returns name, or "stem (n).ext" for the first unused n.
// Comparison ignores case so the result is safe on case-folding filesystems.
func uniqueName(used map[string]bool, name string) string {
	if !used[strings.ToLower(name)] {
		used[strings.ToLower(name)] = true
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		c := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !used[strings.ToLower(c)] {
			used[strings.ToLower(c)] = true
			return c
		}
	}
}

// Thresholds for dropping decorative images (logos, signatures, tracking
// pixels) from mail containers.
const (
	tinyBytes      = 15 << 10
	tinyDimension  = 150
	tinySurface    = 25000
	smallBytes     = 30 << 10
	smallDimension = 200
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".gif": true, ".tif": true, ".tiff": true, ".webp": true,
}

var decorativeName = regexp.MustCompile(`(?i)logo|signature|spacer|pixel|tracking|footer|header|^icon|^blank$|^dot$|^clear$|^trans(parent)?$|^1x1$`)

// insignificantImage reports whether an image attachment is decoration. Size
// alone decides for tiny files; a decorative name lowers the bar. A large
// image is always kept whatever its name.
func insignificantImage(name string, data []byte) (bool, string) {
	ext := strings.ToLower(path.Ext(name))
	if !imageExts[ext] || len(data) == 0 {
		return false, ""
	}
	size := len(data)
	var w, h int
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h = cfg.Width, cfg.Height
	}
	info := fmt.Sprintf("%dKB", size>>10)
	if w > 0 && h > 0 {
		info = fmt.Sprintf("%dx%d, %s", w, h, info)
		long, short := max(w, h), min(w, h)
		if long/max(short, 1) > 10 && short < 20 {
			return true, "separator (" + info + ")"
		}
	}

	tinyDims := w > 0 && h > 0 && ((w < tinyDimension && h < tinyDimension) || w*h < tinySurface)
	if size < tinyBytes && (tinyDims || w == 0 || h == 0) {
		return true, "too small (" + info + ")"
	}

	smallDims := w > 0 && h > 0 && w < smallDimension && h < smallDimension
	stem := strings.TrimSuffix(name, path.Ext(name))
	if (size < smallBytes || smallDims) && decorativeName.MatchString(stem) {
		return true, "decorative (" + info + ")"
	}
	return false, ""
}
