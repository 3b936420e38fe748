//go:build embed_ffmpeg

package ffmpegexec

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bodgit/sevenzip"
)

// 7z-compressed static ffmpeg builds, one per supported platform.

//go:embed binaries/ffmpeg_linux_amd64.7z
var ffmpegLinuxAMD64 []byte

//go:embed binaries/ffmpeg_darwin_arm64.7z
var ffmpegDarwinARM64 []byte

//go:embed binaries/ffmpeg_windows_amd64.7z
var ffmpegWindowsAMD64 []byte

var errNoEmbedded = errors.New("embedded ffmpeg not available for platform")

var embedded = map[string]struct {
	data []byte
	name string
}{
	"linux/amd64":   {data: ffmpegLinuxAMD64, name: "ffmpeg"},
	"darwin/arm64":  {data: ffmpegDarwinARM64, name: "ffmpeg"},
	"windows/amd64": {data: ffmpegWindowsAMD64, name: "ffmpeg.exe"},
}

var (
	extractedPaths = map[string]string{}
	extractMu      sync.Mutex
)

func cacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "flux", "ffmpeg")
}

func extractEmbedded(goos, arch string) (string, error) {
	key := goos + "/" + arch
	entry, ok := embedded[key]
	if !ok || len(entry.data) == 0 {
		return "", errNoEmbedded
	}

	extractMu.Lock()
	defer extractMu.Unlock()

	if p, ok := extractedPaths[key]; ok {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	// a previous run may already have unpacked it
	target := filepath.Join(cacheDir(), goos+"_"+arch, entry.name)
	if _, err := os.Stat(target); err == nil {
		extractedPaths[key] = target
		return target, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	archive, err := sevenzip.NewReader(bytes.NewReader(entry.data), int64(len(entry.data)))
	if err != nil {
		return "", fmt.Errorf("open 7z archive: %w", err)
	}
	for _, file := range archive.File {
		if filepath.Base(file.Name) != entry.name {
			continue
		}
		if err := unpack(file, target); err != nil {
			return "", err
		}
		extractedPaths[key] = target
		return target, nil
	}
	return "", fmt.Errorf("%s not found in embedded archive", entry.name)
}

func unpack(file *sevenzip.File, target string) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s in archive: %w", file.Name, err)
	}
	defer rc.Close()

	tmp := target + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("extract %s: %w", file.Name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}
