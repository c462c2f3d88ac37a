//go:build windows

package walk

import (
	"io/fs"
	"strings"
	"syscall"
)

// hide sets the hidden attribute; the path does not change.
func hide(path string) (string, error) {
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return "", err
	}
	attrs, err := syscall.GetFileAttributes(p)
	if err != nil {
		return "", err
	}
	if err := syscall.SetFileAttributes(p, attrs|syscall.FILE_ATTRIBUTE_HIDDEN); err != nil {
		return "", err
	}
	return path, nil
}

func isHidden(path string, e fs.DirEntry) bool {
	if strings.HasPrefix(e.Name(), ".") {
		return true
	}
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return false
	}
	attrs, err := syscall.GetFileAttributes(p)
	return err == nil && attrs&syscall.FILE_ATTRIBUTE_HIDDEN != 0
}
