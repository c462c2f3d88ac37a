// CLAUDE:SUMMARY Container Expander: unpacks archives and mail containers into sibling directories, idempotently.
// Package expand unpacks container files (zip, tar, tgz, tbz2, 7z, rar
// archives and Outlook/RFC 822 mail) into a directory next to the container.
//
// Output naming: archives drop their extension (data.tar.gz → data/), mail
// containers append -open (note.msg → note.msg-open/). An archive whose only
// top-level entry is a directory named like the archive is hoisted one level.
// An existing output directory makes expansion a no-op unless force is set,
// in which case only missing files are written. Nested containers are
// returned as entries and never expanded here.
//
// Extraction goes to a hidden temporary sibling first and is renamed into
// place, so a failed or interrupted expansion leaves no output directory.
package expand

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/topdf/config"
	"github.com/hazyhaar/topdf/docpipe"
)

// Result describes one expansion. Created is false for no-ops: the output
// directory already existed, it was already offered this run, or dry-run.
// Existed reports that OutputDir was on disk before this call.
type Result struct {
	ContainerPath string             `json:"container_path"`
	OutputDir     string             `json:"output_dir"`
	Kind          docpipe.Kind       `json:"kind"`
	Created       bool               `json:"created"`
	Existed       bool               `json:"existed,omitempty"`
	DryRun        bool               `json:"dry_run,omitempty"`
	Entries       []docpipe.WorkItem `json:"entries,omitempty"`
	Skipped       []string           `json:"skipped,omitempty"`
	Detail        string             `json:"detail,omitempty"`
	Duration      time.Duration      `json:"duration"`
}

// Expander unpacks containers under the limits of a config snapshot.
type Expander struct {
	maxBytes   int64
	maxEntries int
	force      bool
	dryRun     bool
	logger     *slog.Logger
}

// New returns an Expander for cfg.
func New(cfg *config.Config) *Expander {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{
		maxBytes:   cfg.MaxExtractBytes,
		maxEntries: cfg.MaxEntries,
		force:      cfg.Force,
		dryRun:     cfg.DryRun,
		logger:     logger,
	}
}

// OutputDir returns the directory a container expands into.
func OutputDir(item docpipe.WorkItem) string {
	if item.Kind == docpipe.KindMail {
		return item.Path + "-open"
	}
	return filepath.Join(filepath.Dir(item.Path), stem(item))
}

// stem is the container base name without its (possibly compound) extension.
func stem(item docpipe.WorkItem) string {
	base := filepath.Base(item.Path)
	s := base[:len(base)-len(item.Ext)]
	if s == "" {
		return base + "-extract"
	}
	return s
}

func (x *Expander) walker(item docpipe.WorkItem) (walkFunc, error) {
	switch item.Ext {
	case ".zip":
		return walkZip, nil
	case ".tar":
		return func(ctx context.Context, p string, v visitFunc) error { return walkTar(ctx, p, v, nil) }, nil
	case ".tgz", ".tar.gz":
		return func(ctx context.Context, p string, v visitFunc) error { return walkTar(ctx, p, v, gunzip) }, nil
	case ".tbz2", ".tar.bz2":
		return func(ctx context.Context, p string, v visitFunc) error { return walkTar(ctx, p, v, bunzip) }, nil
	case ".7z":
		return walk7z, nil
	case ".rar":
		return walkRar, nil
	case ".msg":
		return x.walkMsg, nil
	case ".eml":
		return x.walkEml, nil
	}
	return nil, fmt.Errorf("expand: %s is not a container format", item.Ext)
}

// Expand unpacks item into OutputDir(item). visited guards against offering
// the same directory twice in one run; it is updated by this call.
func (x *Expander) Expand(ctx context.Context, item docpipe.WorkItem, visited *VisitedSet) (res Result, err error) {
	start := time.Now()
	out := OutputDir(item)
	res = Result{ContainerPath: item.Path, OutputDir: out, Kind: item.Kind, DryRun: x.dryRun}
	defer func() {
		res.Duration = time.Since(start)
		if err != nil {
			x.logger.Warn("expand: failed", "container", item.Path, "error", err)
			return
		}
		x.logger.Info("expand: done", "container", item.Path, "dir", out,
			"created", res.Created, "entries", len(res.Entries), "skipped", len(res.Skipped))
	}()

	walk, err := x.walker(item)
	if err != nil {
		return res, err
	}
	if !visited.Add(out) {
		res.Detail = "already expanded in this run"
		return res, nil
	}

	info, statErr := os.Stat(out)
	exists := statErr == nil
	if exists && !info.IsDir() {
		return res, fmt.Errorf("expand: %s exists and is not a directory", out)
	}
	res.Existed = exists
	if exists && !x.force {
		res.Detail = "output directory exists"
		return res, nil
	}

	if x.dryRun {
		l := &lister{}
		if err := walk(ctx, item.Path, l.put); err != nil {
			return res, err
		}
		for _, name := range l.names {
			res.Entries = append(res.Entries, docpipe.Classify(filepath.Join(out, filepath.FromSlash(name))))
		}
		res.Skipped = l.skipped
		res.Detail = fmt.Sprintf("dry-run: would extract %d files", len(l.names))
		return res, nil
	}

	tmp, err := os.MkdirTemp(filepath.Dir(out), "."+filepath.Base(out)+".partial-")
	if err != nil {
		return res, fmt.Errorf("expand: %w", err)
	}
	defer os.RemoveAll(tmp)

	s := &sink{root: tmp, maxBytes: x.maxBytes, maxEntries: x.maxEntries}
	if err := walk(ctx, item.Path, s.put); err != nil {
		return res, err
	}
	res.Skipped = s.skipped

	root := tmp
	if item.Kind == docpipe.KindArchive {
		root = hoist(tmp, stem(item))
	}

	if exists {
		n, err := repopulate(root, out)
		if err != nil {
			return res, err
		}
		res.Detail = fmt.Sprintf("re-populated %d missing files", n)
	} else if err := os.Rename(root, out); err != nil {
		return res, fmt.Errorf("expand: %w", err)
	}
	res.Created = true

	res.Entries, err = Entries(out)
	return res, err
}

// hoist returns the directory whose contents become the output: the single
// top-level directory when it is named like the container, else root.
func hoist(root, want string) string {
	ents, err := os.ReadDir(root)
	if err != nil || len(ents) != 1 || !ents[0].IsDir() {
		return root
	}
	if normalizeName(ents[0].Name()) != normalizeName(want) {
		return root
	}
	return filepath.Join(root, ents[0].Name())
}

// normalizeName folds case and drops separators so "My-Docs" matches "my docs".
func normalizeName(s string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s))
}

// repopulate moves files of src missing from dst into dst. Existing files
// are left untouched.
func repopulate(src, dst string) (int, error) {
	n := 0
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if _, err := os.Lstat(target); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.Rename(p, target); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("expand: re-populate: %w", err)
	}
	return n, nil
}

// Entries classifies every file under dir, skipping ignored names, in
// lexical order.
func Entries(dir string) ([]docpipe.WorkItem, error) {
	var items []docpipe.WorkItem
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && Ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			items = append(items, docpipe.Classify(p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expand: list %s: %w", dir, err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}
