//go:build !windows

package walk

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// hide renames path to its dotfile form and returns the new path.
func hide(path string) (string, error) {
	dir, name := filepath.Split(path)
	if strings.HasPrefix(name, ".") {
		return path, nil
	}
	dst := filepath.Join(dir, "."+name)
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("hide %s: %s already exists", path, dst)
	}
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func isHidden(_ string, e fs.DirEntry) bool {
	return strings.HasPrefix(e.Name(), ".")
}
