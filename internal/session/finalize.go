package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxCollisionSuffix bounds the search for a free "name (N).ext".
const maxCollisionSuffix = 10_000

// audioSuffix is appended to the video base name for the standalone audio file.
const audioSuffix = "_audio.m4a"

// Finalize moves the completed temp file to dest, or to "name (N).ext" when
// dest is taken, and returns the path used. The name is claimed with an
// exclusive create so two finalizers never pick the same one; the temp file
// is then renamed over the placeholder, falling back to a copy across
// devices. Removing the temp file is best-effort.
func Finalize(temp, dest string, logger Logger) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", err)
	}
	placeholder, final, err := claimName(dest)
	if err != nil {
		return "", err
	}
	placeholder.Close()

	if err := os.Rename(temp, final); err == nil {
		logDebug(logger, "finalized", "path", final)
		return final, nil
	}

	// rename fails across devices; copy instead
	if err := copyFile(final, temp); err != nil {
		os.Remove(final)
		return "", fmt.Errorf("copy to %s: %w", final, err)
	}
	if err := os.Remove(temp); err != nil {
		logWarn(logger, "temp cleanup failed", "path", temp, "error", err)
	}
	logDebug(logger, "finalized by copy", "path", final)
	return final, nil
}

// claimName exclusively creates dest or the first free "name (N).ext".
func claimName(dest string) (*os.File, string, error) {
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	for n := 0; n < maxCollisionSuffix; n++ {
		candidate := dest
		if n > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", candidate, err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s", dest)
}

// copyFile copies a file from src to dst, replacing dst.
func copyFile(dst, src string) error {
	s, err := os.Open(src)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer d.Close()

	w := bufio.NewWriterSize(d, 64*1024)
	if _, err := io.Copy(w, s); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return d.Close()
}

// AudioSibling returns "<dir>/<base>_audio.m4a" for a finalized video path.
func AudioSibling(videoPath string) string {
	ext := filepath.Ext(videoPath)
	return strings.TrimSuffix(videoPath, ext) + audioSuffix
}

// TempName returns "<base>-<unixms><ext>" inside dir, namespacing concurrent
// sessions that target the same file name.
func TempName(dir, dest string, now time.Time) string {
	base := filepath.Base(dest)
	ext := filepath.Ext(base)
	return filepath.Join(dir, fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), now.UnixMilli(), ext))
}

// MergedName returns the temp path ffmpeg writes the muxed output to.
func MergedName(dir, videoPath string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("merged-%d%s", now.UnixMilli(), filepath.Ext(videoPath)))
}

// removeQuietly deletes path, logging anything other than "already gone".
func removeQuietly(logger Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logWarn(logger, "cleanup failed", "path", path, "error", err)
	}
}
