// CLAUDE:SUMMARY Defines Kind, WorkItem, Section and Document types shared by classification and the rendering fallback.
package docpipe

// Kind classifies a file for the conversion pipeline.
type Kind string

const (
	KindOfficeDoc   Kind = "office-doc"
	KindImage       Kind = "image"
	KindText        Kind = "text"
	KindMarkup      Kind = "markup"
	KindMail        Kind = "mail-container"
	KindArchive     Kind = "archive"
	KindPDF         Kind = "already-pdf"
	KindUnsupported Kind = "unsupported"
)

// IsContainer reports whether items of this kind are expanded rather than converted.
func (k Kind) IsContainer() bool {
	return k == KindArchive || k == KindMail
}

// WorkItem is a classified path. A path is classified once and never reclassified.
type WorkItem struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	Ext  string `json:"ext"` // lower-case, compound for .tar.gz / .tar.bz2
}

// Section is a structural unit of extracted text.
type Section struct {
	Title string `json:"title,omitempty"`
	Level int    `json:"level"` // heading level 1-6, 0 for body
	Text  string `json:"text"`
	Type  string `json:"type"` // heading, paragraph, table, list, code
}

// Document is the text rendition of a file used by the rendering fallback.
type Document struct {
	Path     string    `json:"path"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}
