package native

import (
	"errors"
	"net/url"
)

// ErrStartTimeout indicates the host never began the requested download.
var ErrStartTimeout = errors.New("timed out waiting for download to start")

// ErrNotPausable indicates the item is already paused or finished.
var ErrNotPausable = errors.New("download cannot be paused")

// ErrNotResumable indicates the item is not paused or cannot continue.
var ErrNotResumable = errors.New("download cannot be resumed")

// ErrCancelled indicates the item was cancelled.
var ErrCancelled = errors.New("download cancelled")

// ErrInterrupted indicates the host gave up on the item mid-transfer.
var ErrInterrupted = errors.New("download interrupted")

// State is the lifecycle state of a host download item.
type State int

const (
	StateProgressing State = iota
	StatePaused
	StateCompleted
	StateCancelled
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateProgressing:
		return "progressing"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateInterrupted
}

// Item is the host environment's per-download object.
type Item interface {
	URL() string
	// SetSavePath must be called before the host starts writing.
	SetSavePath(path string)
	SavePath() string
	Pause() error
	Resume() error
	Cancel()
	IsPaused() bool
	CanResume() bool
	State() State
	ReceivedBytes() int64
	TotalBytes() int64
	// Watch attaches an observer for progress and the terminal event.
	Watch(obs Observer)
}

// Observer receives item notifications from the host.
type Observer interface {
	OnProgress(item Item)
	OnDone(item Item, state State)
}

// Host triggers downloads and announces each one before it starts.
type Host interface {
	// OnWillDownload registers fn to run synchronously for every item before
	// the host writes any bytes. fn returns true when it takes ownership of
	// the item. The returned func unregisters fn.
	OnWillDownload(fn func(item Item) bool) (remove func())
	// Download asks the host to fetch rawURL.
	Download(rawURL string) error
}

// sameResource matches an item to a request by exact URL or by URL without
// its query string; signed CDN links often gain or lose query parameters.
func sameResource(itemURL, requested string) bool {
	if itemURL == requested {
		return true
	}
	return stripQuery(itemURL) == stripQuery(requested)
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	return u.String()
}
