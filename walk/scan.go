package walk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hazyhaar/topdf/audit"
	"github.com/hazyhaar/topdf/docpipe"
	"github.com/hazyhaar/topdf/expand"
)

type scanDir struct {
	path      string
	recursive bool
	root      bool
	// refresh re-reads a directory enumerated earlier in the run. Files
	// already handled are still skipped.
	refresh bool
}

// scan enumerates the pass directories breadth-first through an explicit
// queue. Items come back in a stable order: directory order, then name.
// Directories already enumerated this run are skipped unless refreshed, and
// files already handled are never returned twice.
func (w *Walker) scan(ctx context.Context, dirs []scanDir) (items, containers []docpipe.WorkItem, err error) {
	queue := append([]scanDir(nil), dirs...)
	for len(queue) > 0 {
		if ctx.Err() != nil {
			return items, containers, ErrInterrupted
		}
		d := queue[0]
		queue = queue[1:]
		if w.scanned[d.path] && !d.refresh {
			continue
		}
		w.scanned[d.path] = true

		entries, err := os.ReadDir(d.path)
		if err != nil {
			if d.root {
				return nil, nil, fmt.Errorf("walk: read %s: %w", d.path, err)
			}
			w.logger.Warn("walk: unreadable directory", "dir", d.path, "error", err)
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		derived := w.derivedPDFs(d.path, entries)

		for _, e := range entries {
			name := e.Name()
			path := filepath.Join(d.path, name)
			if expand.Ignored(name) || isHidden(path, e) || w.exclude[path] {
				continue
			}
			if e.IsDir() {
				if d.recursive {
					queue = append(queue, scanDir{path: path, recursive: true, refresh: d.refresh})
				}
				continue
			}
			if !e.Type().IsRegular() || audit.IsReportFile(name) || derived[name] || w.handled[path] {
				continue
			}

			item := docpipe.Classify(path)
			if item.Kind.IsContainer() {
				containers = append(containers, item)
				continue
			}
			if !w.cfg.Allowed(item.Ext) {
				continue
			}
			items = append(items, item)
		}
	}
	return items, containers, nil
}

// derivedPDFs returns the PDF names in dir that are outputs of a sibling
// source, hidden or retired-by-hiding sources included, under the current
// naming rule. Such files are never inputs.
func (w *Walker) derivedPDFs(dir string, entries []os.DirEntry) map[string]bool {
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	derived := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := strings.TrimPrefix(e.Name(), ".")
		if src == "" {
			continue
		}
		if k := docpipe.Classify(src).Kind; k == docpipe.KindUnsupported || k == docpipe.KindPDF || k.IsContainer() {
			continue
		}
		out := filepath.Base(w.cfg.DestPath(filepath.Join(dir, src)))
		if names[out] {
			derived[out] = true
		}
	}
	return derived
}
