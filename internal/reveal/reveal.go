// Package reveal opens the folder holding a downloaded file in the desktop
// file manager.
package reveal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/skratchdot/open-golang/open"
)

// ErrUnsupported is returned on platforms without a desktop file manager.
var ErrUnsupported = errors.New("revealing folders is not supported on this platform")

// starter launches the platform opener without waiting for it. Tests replace it.
var starter = open.Start

// Folder opens the directory containing path. When path is itself a
// directory it is opened directly.
func Folder(path string) error {
	if !supported(runtime.GOOS) {
		return ErrUnsupported
	}
	dir, err := containingDir(path)
	if err != nil {
		return err
	}
	if err := starter(dir); err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	return nil
}

func containingDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if err == nil && fi.IsDir() {
		return abs, nil
	}
	dir := filepath.Dir(abs)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("folder %s: %w", dir, err)
	}
	return dir, nil
}

// supported lists the platforms open-golang has a file manager launcher for
// (open, rundll32, xdg-open).
func supported(goos string) bool {
	switch goos {
	case "darwin", "windows", "linux", "freebsd", "openbsd", "netbsd", "dragonfly":
		return true
	default:
		return false
	}
}
