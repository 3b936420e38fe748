package ffmpegexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
)

// ErrCancelled indicates the merge was stopped before ffmpeg finished.
var ErrCancelled = errors.New("merge cancelled")

// MergeError is returned when ffmpeg exits with a non-zero status.
type MergeError struct {
	ExitCode int
	Output   string
}

func (e *MergeError) Error() string {
	out := strings.TrimSpace(e.Output)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	if out == "" {
		return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, out)
}

// MergeArgs returns the stream-copy mux arguments: video stream 0 of the
// first input, audio stream 0 of the second, overwriting output.
func MergeArgs(videoPath, audioPath, outputPath string) []string {
	return []string{
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "copy",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-y", outputPath,
	}
}

// Merge muxes videoPath and audioPath into outputPath without re-encoding.
func (r *Runner) Merge(ctx context.Context, videoPath, audioPath, outputPath string) error {
	if err := EnsureDir(outputPath); err != nil {
		return err
	}
	diag := &diagnostics{log: r.log}
	if r.log != nil {
		r.log.Debug("merging streams", "video", videoPath, "audio", audioPath, "output", outputPath)
	}

	err := r.Run(ctx, MergeArgs(videoPath, audioPath, outputPath), io.Discard, diag)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &MergeError{ExitCode: exitErr.ExitCode(), Output: diag.String()}
	}
	return err
}

var timeMarker = regexp.MustCompile(`time=(\d+:\d{2}:\d{2}(?:\.\d+)?)`)

// diagnostics captures ffmpeg's stderr and logs the time= markers it prints
// while muxing.
type diagnostics struct {
	mu  sync.Mutex
	buf bytes.Buffer
	log Logger
}

func (d *diagnostics) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.log != nil {
		for _, m := range timeMarker.FindAllSubmatch(p, -1) {
			d.log.Debug("ffmpeg progress", "time", string(m[1]))
		}
	}
	return d.buf.Write(p)
}

func (d *diagnostics) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.String()
}
