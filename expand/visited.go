package expand

import "path/filepath"

// VisitedSet holds the resolved directories already offered for expansion
// during one run. It only grows and is never persisted. It is owned by the
// walker and is not safe for concurrent use.
type VisitedSet struct {
	dirs map[string]struct{}
}

func NewVisitedSet() *VisitedSet {
	return &VisitedSet{dirs: make(map[string]struct{})}
}

// Add records dir and reports whether it was new.
func (v *VisitedSet) Add(dir string) bool {
	key := resolve(dir)
	if _, ok := v.dirs[key]; ok {
		return false
	}
	v.dirs[key] = struct{}{}
	return true
}

// Has reports whether dir was already recorded.
func (v *VisitedSet) Has(dir string) bool {
	_, ok := v.dirs[resolve(dir)]
	return ok
}

// Len returns the number of distinct directories recorded.
func (v *VisitedSet) Len() int { return len(v.dirs) }

// resolve returns the absolute, symlink-free form of dir. Directories that do
// not exist yet resolve through their parent.
func resolve(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Clean(dir)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	if parent, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(parent, filepath.Base(abs))
	}
	return abs
}
