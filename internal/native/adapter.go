package native

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lwshakib/flux-video-downloader/internal/telemetry"
)

// DefaultStartTimeout bounds the wait for the host to begin a download.
const DefaultStartTimeout = 60 * time.Second

// Logger interface for logging operations.
// Compatible with github.com/charmbracelet/log.Logger.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// Adapter drives host-managed downloads into a caller-chosen path.
type Adapter struct {
	host         Host
	startTimeout time.Duration
	log          Logger
}

// NewAdapter creates an Adapter. A non-positive startTimeout uses DefaultStartTimeout.
func NewAdapter(host Host, startTimeout time.Duration, logger Logger) *Adapter {
	if startTimeout <= 0 {
		startTimeout = DefaultStartTimeout
	}
	return &Adapter{host: host, startTimeout: startTimeout, log: logger}
}

// Handle is a host download that has started.
type Handle struct {
	item       Item
	onProgress telemetry.Func

	once  sync.Once
	done  chan struct{}
	final State
}

// OnProgress implements Observer.
func (h *Handle) OnProgress(item Item) {
	if h.onProgress != nil {
		h.onProgress(telemetry.Snapshot(item.ReceivedBytes(), item.TotalBytes()))
	}
}

// OnDone implements Observer. Only the first terminal report counts.
func (h *Handle) OnDone(_ Item, state State) {
	h.once.Do(func() {
		h.final = state
		close(h.done)
	})
}

// Start asks the host to download rawURL into savePath and returns once the
// host has begun. The will-download listener is registered before the
// download is triggered so the first announcement cannot be missed.
func (a *Adapter) Start(ctx context.Context, rawURL, savePath string, onProgress telemetry.Func) (*Handle, error) {
	h := &Handle{onProgress: onProgress, done: make(chan struct{})}
	claimed := make(chan Item, 1)
	var claimOnce sync.Once

	remove := a.host.OnWillDownload(func(item Item) bool {
		if !sameResource(item.URL(), rawURL) {
			return false
		}
		took := false
		claimOnce.Do(func() {
			item.SetSavePath(savePath)
			item.Watch(h)
			took = true
			claimed <- item
		})
		return took
	})
	defer remove()

	timer := time.NewTimer(a.startTimeout)
	defer timer.Stop()

	if err := a.host.Download(rawURL); err != nil {
		return nil, fmt.Errorf("start download: %w", err)
	}
	if a.log != nil {
		a.log.Debug("waiting for host download", "url", rawURL, "timeout", a.startTimeout)
	}

	select {
	case item := <-claimed:
		h.item = item
		return h, nil
	case <-timer.C:
		// the host may have announced it just as the timer fired
		if item := a.lateClaim(claimed); item != nil {
			h.item = item
			return h, nil
		}
		return nil, ErrStartTimeout
	case <-ctx.Done():
		if item := a.lateClaim(claimed); item != nil {
			item.Cancel()
		}
		return nil, ErrCancelled
	}
}

func (a *Adapter) lateClaim(claimed <-chan Item) Item {
	select {
	case item := <-claimed:
		return item
	default:
		return nil
	}
}

// Wait blocks until the item reaches a terminal state. Cancelling ctx
// cancels the item.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
	case <-ctx.Done():
		h.item.Cancel()
		h.OnDone(h.item, StateCancelled)
		return ErrCancelled
	}
	switch h.final {
	case StateCompleted:
		return nil
	case StateCancelled:
		return ErrCancelled
	default:
		return fmt.Errorf("%w: %s", ErrInterrupted, h.item.URL())
	}
}

// Pause suspends the transfer.
func (h *Handle) Pause() error {
	if h.item.IsPaused() || h.item.State().Terminal() {
		return ErrNotPausable
	}
	return h.item.Pause()
}

// Resume continues a paused transfer.
func (h *Handle) Resume() error {
	if !h.item.IsPaused() || !h.item.CanResume() {
		return ErrNotResumable
	}
	return h.item.Resume()
}

// Cancel stops the transfer.
func (h *Handle) Cancel() {
	h.item.Cancel()
}

// Paused reports whether the item is paused.
func (h *Handle) Paused() bool {
	return h.item.IsPaused()
}

// SavePath returns where the host is writing.
func (h *Handle) SavePath() string {
	return h.item.SavePath()
}
