package session

import (
	"errors"
	"fmt"

	"github.com/lwshakib/flux-video-downloader/internal/fetch"
	"github.com/lwshakib/flux-video-downloader/internal/telemetry"
)

// ErrSessionActive indicates the caller key already has a running download.
var ErrSessionActive = errors.New("a download is already running for this session")

// ErrNoSession indicates no running download matches the caller key.
var ErrNoSession = errors.New("no active download for this session")

// ErrPauseUnsupported indicates pause/resume was requested for a fetch-based transfer.
var ErrPauseUnsupported = errors.New("pause and resume are only available for host-managed downloads")

// ErrInvalidRequest indicates a request without a URL or destination.
var ErrInvalidRequest = errors.New("invalid download request")

// Logger interface for logging operations.
// Compatible with github.com/charmbracelet/log.Logger.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// Request is one download submitted by a caller.
type Request struct {
	URL      string `json:"url"`
	AudioURL string `json:"audioUrl,omitempty"`
	// FilePath is absolute or relative to the user's home directory.
	FilePath string         `json:"filePath"`
	Title    string         `json:"title,omitempty"`
	Cookies  []fetch.Cookie `json:"cookies,omitempty"`
}

func (r Request) validate() error {
	if r.URL == "" {
		return errors.Join(ErrInvalidRequest, errors.New("url is required"))
	}
	if r.FilePath == "" {
		return errors.Join(ErrInvalidRequest, errors.New("filePath is required"))
	}
	return nil
}

// Strategy is how a leg is transferred.
type Strategy int

const (
	NativeManaged Strategy = iota
	FetchSequential
	FetchChunked
)

func (s Strategy) String() string {
	switch s {
	case NativeManaged:
		return "native"
	case FetchSequential:
		return "sequential"
	case FetchChunked:
		return "chunked"
	default:
		return "unknown"
	}
}

// MarshalText encodes the strategy by name.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (s *Strategy) UnmarshalText(text []byte) error {
	for _, v := range []Strategy{NativeManaged, FetchSequential, FetchChunked} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown strategy %q", text)
}

// Plan is the transfer plan of one leg, fixed when the leg starts.
type Plan struct {
	Strategy      Strategy `json:"strategy"`
	TotalBytes    int64    `json:"totalBytes"`
	SupportsRange bool     `json:"supportsRange"`
	ChunkCount    int      `json:"chunkCount"`
}

// State is the lifecycle state of a session.
type State int

const (
	Pending State = iota
	InProgress
	Paused
	Merging
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in_progress"
	case Paused:
		return "paused"
	case Merging:
		return "merging"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for v := Pending; v <= Failed; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Terminal reports whether the session is over.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Leg names the transfer a progress event belongs to.
type Leg string

const (
	LegVideo Leg = "video"
	LegAudio Leg = "audio"
)

// Result describes a completed session.
type Result struct {
	FilePath string `json:"filePath"`
	// AudioPath is set when the audio track stayed a separate file.
	AudioPath     string   `json:"audioPath,omitempty"`
	Merged        bool     `json:"merged"`
	Strategy      Strategy `json:"strategy"`
	AudioStrategy Strategy `json:"audioStrategy,omitempty"`
	Bytes         int64    `json:"bytes"`
	Warnings      []string `json:"warnings,omitempty"`
}

// EventKind tags an Event.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventError     EventKind = "error"
	EventCancelled EventKind = "cancelled"
	EventWarning   EventKind = "warning"
	EventState     EventKind = "state"
)

// Terminal reports whether the kind ends a session.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventError || k == EventCancelled
}

// Event is what a session reports to its caller. Exactly one terminal event
// is delivered per session.
type Event struct {
	ID       string              `json:"id"`
	Kind     EventKind           `json:"kind"`
	Session  string              `json:"session"`
	Leg      Leg                 `json:"leg,omitempty"`
	Progress *telemetry.Progress `json:"progress,omitempty"`
	State    string              `json:"state,omitempty"`
	FilePath string              `json:"filePath,omitempty"`
	Error    string              `json:"error,omitempty"`
	Warning  string              `json:"warning,omitempty"`
	Result   *Result             `json:"result,omitempty"`
}

// Sink receives session events. Calls are serialized per session; a sink
// must not call back into the same session synchronously.
type Sink func(Event)

func logDebug(logger Logger, msg string, keyvals ...any) {
	if logger != nil {
		logger.Debug(msg, keyvals...)
	}
}

func logInfo(logger Logger, msg string, keyvals ...any) {
	if logger != nil {
		logger.Info(msg, keyvals...)
	}
}

func logWarn(logger Logger, msg string, keyvals ...any) {
	if logger != nil {
		logger.Warn(msg, keyvals...)
	}
}
