package ffmpegexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/lwshakib/flux-video-downloader/internal/config"
)

// ErrNotFound indicates no usable ffmpeg binary could be located.
var ErrNotFound = errors.New("ffmpeg not found")

// terminateGrace is how long ffmpeg gets to exit after SIGTERM before it is killed.
const terminateGrace = 5 * time.Second

// Logger interface for logging operations.
// Compatible with github.com/charmbracelet/log.Logger.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// Runner wraps execution of the ffmpeg binary.
type Runner struct {
	path string
	// prefix is prepended to every argument list; used to re-exec test binaries.
	prefix []string
	log    Logger
}

// Locate finds the ffmpeg binary to use. Order:
// 1) explicit path argument if non-empty
// 2) FLUX_FFMPEG environment variable
// 3) ffmpeg found on PATH
// 4) the embedded archive, when built with the embed_ffmpeg tag
func Locate(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(config.EnvFFmpeg); env != "" {
		return env, nil
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p, nil
	}
	if p, err := extractEmbedded(runtime.GOOS, runtime.GOARCH); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w; install ffmpeg, set %s, or pass --ffmpeg", ErrNotFound, config.EnvFFmpeg)
}

// New creates a Runner using the located ffmpeg path.
func New(explicit string, logger Logger) (*Runner, error) {
	p, err := Locate(explicit)
	if err != nil {
		return nil, err
	}
	return &Runner{path: p, log: logger}, nil
}

// Check locates ffmpeg and makes sure it actually runs. The application
// refuses to start without it.
func Check(ctx context.Context, explicit string, logger Logger) (*Runner, error) {
	r, err := New(explicit, logger)
	if err != nil {
		return nil, err
	}
	ver, err := r.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not runnable: %v", ErrNotFound, r.path, err)
	}
	if logger != nil {
		logger.Debug("ffmpeg available", "path", r.path, "version", ver)
	}
	return r, nil
}

// Version returns the first line of `ffmpeg -version`.
func (r *Runner) Version(ctx context.Context) (string, error) {
	var out bytes.Buffer
	if err := r.Run(ctx, []string{"-hide_banner", "-version"}, &out, io.Discard); err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(out.String(), "\n")
	return strings.TrimSpace(line), nil
}

// Run executes ffmpeg with the provided arguments. When ctx ends the process
// receives SIGTERM and is killed if it has not exited after a grace period.
func (r *Runner) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	full := append(append([]string{}, r.prefix...), args...)
	cmd := exec.CommandContext(ctx, r.path, full...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return terminate(cmd.Process)
	}
	cmd.WaitDelay = terminateGrace
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// terminate asks the process to stop; platforms without SIGTERM get a kill.
func terminate(p *os.Process) error {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return p.Kill()
	}
	return nil
}

// Path returns the ffmpeg path in use.
func (r *Runner) Path() string {
	return r.path
}

// EnsureDir ensures the parent directory for a path exists.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
