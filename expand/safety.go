// CLAUDE:SUMMARY Extraction guards: name sanitizing, ignore patterns, traversal checks, byte and entry budgets.
package expand

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrUnsafePath rejects entries that would land outside the output directory.
	ErrUnsafePath = errors.New("expand: entry escapes output directory")
	// ErrTooLarge is returned when extraction exceeds the byte or entry budget.
	ErrTooLarge = errors.New("expand: extraction budget exceeded")
	// ErrEncrypted marks containers whose content is encrypted.
	ErrEncrypted = errors.New("expand: encrypted container")
)

// maxNameLen caps each sanitized path component, in bytes.
const maxNameLen = 200

// ignored names are dropped at any depth. Dotfiles are dropped too.
var ignored = map[string]bool{
	"__macosx":    true,
	".ds_store":   true,
	"thumbs.db":   true,
	"desktop.ini": true,
	".git":        true,
	".svn":        true,
	"__pycache__": true,
}

// Ignored reports whether a single path component is noise.
func Ignored(name string) bool {
	return strings.HasPrefix(name, ".") || ignored[strings.ToLower(name)]
}

// SanitizeName makes one path component safe on every filesystem: reserved
// characters and controls become '_', the result is NFC and at most
// maxNameLen bytes, extension preserved.
func SanitizeName(name string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"|?*/\`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	s := strings.TrimRight(strings.TrimSpace(b.String()), ". ")
	if len(s) > maxNameLen {
		ext := path.Ext(s)
		if len(ext) > 16 {
			ext = ""
		}
		stem := strings.TrimSuffix(s, ext)
		for len(stem) > maxNameLen-len(ext) {
			_, size := utf8.DecodeLastRuneInString(stem)
			stem = stem[:len(stem)-size]
		}
		s = strings.TrimRight(stem, ". ") + ext
	}
	if s == "" {
		s = "_"
	}
	return s
}

// cleanEntry turns an archive member name into a sanitized relative path.
// ok is false when the entry must be skipped (ignored component or empty).
// Any ".." component or absolute form is rejected with ErrUnsafePath.
func cleanEntry(name string) (rel string, ok bool, err error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") || (len(name) > 1 && name[1] == ':') {
		return "", false, fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	var parts []string
	for _, p := range strings.Split(name, "/") {
		switch p {
		case "", ".":
			continue
		case "..":
			return "", false, fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
		if Ignored(p) {
			return "", false, nil
		}
		parts = append(parts, SanitizeName(p))
	}
	if len(parts) == 0 {
		return "", false, nil
	}
	return filepath.Join(parts...), true, nil
}

// safeJoin joins rel under base and verifies the result stays under base.
func safeJoin(base, rel string) (string, error) {
	cleaned := filepath.Join(base, filepath.Clean(string(filepath.Separator)+rel))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return cleaned, nil
}

// entry is one member of a container, as seen by a walker.
type entry struct {
	name string // slash-separated path inside the container
	dir  bool
	size int64 // declared size, -1 when unknown
	open func() (io.ReadCloser, error)
	skip string // reason the member is listed but not written
}

// visitFunc receives every member of a container in order.
type visitFunc func(entry) error

// sink writes entries under root within a byte and entry budget.
type sink struct {
	root       string
	maxBytes   int64
	maxEntries int
	written    int64
	files      int
	names      []string
	skipped    []string
}

func (s *sink) put(e entry) error {
	if e.skip != "" {
		s.skipped = append(s.skipped, e.name+" ("+e.skip+")")
		return nil
	}
	rel, ok, err := cleanEntry(e.name)
	if err != nil {
		return err
	}
	if !ok {
		s.skipped = append(s.skipped, e.name)
		return nil
	}
	dst, err := safeJoin(s.root, rel)
	if err != nil {
		return err
	}
	if e.dir {
		return os.MkdirAll(dst, 0o755)
	}

	s.files++
	if s.maxEntries > 0 && s.files > s.maxEntries {
		return fmt.Errorf("%w: more than %d entries", ErrTooLarge, s.maxEntries)
	}
	remaining := s.maxBytes - s.written
	if e.size > remaining {
		return fmt.Errorf("%w: %s declares %d bytes, %d left", ErrTooLarge, rel, e.size, remaining)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	rc, err := e.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer rc.Close()
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, io.LimitReader(rc, remaining+1))
	s.written += n
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", rel, err)
	}
	if n > remaining {
		return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.maxBytes)
	}
	s.names = append(s.names, filepath.ToSlash(rel))
	return nil
}

// lister records sanitized names without writing anything (dry-run).
type lister struct {
	names   []string
	skipped []string
}

func (l *lister) put(e entry) error {
	if e.skip != "" {
		l.skipped = append(l.skipped, e.name+" ("+e.skip+")")
		return nil
	}
	rel, ok, err := cleanEntry(e.name)
	if err != nil {
		return err
	}
	if !ok {
		l.skipped = append(l.skipped, e.name)
		return nil
	}
	if !e.dir {
		l.names = append(l.names, filepath.ToSlash(rel))
	}
	return nil
}
