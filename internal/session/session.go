package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lwshakib/flux-video-downloader/internal/native"
	"github.com/lwshakib/flux-video-downloader/internal/telemetry"
)

// Session is the live state of one caller's download.
type Session struct {
	key      string
	id       string
	req      Request
	sink     Sink
	log      Logger
	registry *Registry

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	strategy Strategy
	handle   *native.Handle
	temps    map[string]struct{}

	emitMu   sync.Mutex
	resolved bool

	once   sync.Once
	done   chan struct{}
	result Result
	err    error

	// successor is the pending request that took over the key on resolve.
	successor *Session
}

func newSession(parent context.Context, key string, req Request, sink Sink, registry *Registry, logger Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		key:      key,
		id:       uuid.NewString(),
		req:      req,
		sink:     sink,
		log:      logger,
		registry: registry,
		parent:   parent,
		ctx:      ctx,
		cancel:   cancel,
		temps:    map[string]struct{}{},
		done:     make(chan struct{}),
	}
}

// Key returns the caller key the session is registered under.
func (s *Session) Key() string { return s.key }

// ID returns the unique id of this session.
func (s *Session) ID() string { return s.id }

// Request returns the request the session was started with.
func (s *Session) Request() Request { return s.req }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Strategy returns the strategy of the video leg.
func (s *Session) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel stops every leg of the session, including a running merge.
func (s *Session) Cancel() {
	s.cancel()
}

// Pause suspends a host-managed transfer.
func (s *Session) Pause() error {
	h, err := s.nativeHandle()
	if err != nil {
		return err
	}
	if err := h.Pause(); err != nil {
		return err
	}
	s.setState(Paused)
	return nil
}

// Resume continues a paused host-managed transfer.
func (s *Session) Resume() error {
	h, err := s.nativeHandle()
	if err != nil {
		return err
	}
	if err := h.Resume(); err != nil {
		return err
	}
	s.setState(InProgress)
	return nil
}

func (s *Session) nativeHandle() (*native.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return nil, ErrNoSession
	}
	if s.strategy != NativeManaged {
		return nil, ErrPauseUnsupported
	}
	if s.handle == nil {
		// host has not started the item yet
		return nil, native.ErrNotPausable
	}
	return s.handle, nil
}

func (s *Session) attach(h *native.Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

func (s *Session) setStrategy(st Strategy) {
	s.mu.Lock()
	s.strategy = st
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: st.String()})
}

// track marks path for removal if the session does not complete it.
func (s *Session) track(path string) {
	s.mu.Lock()
	s.temps[path] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) forget(path string) {
	s.mu.Lock()
	delete(s.temps, path)
	s.mu.Unlock()
}

func (s *Session) progress(leg Leg, p telemetry.Progress) {
	s.emit(Event{Kind: EventProgress, Leg: leg, Progress: &p})
}

// emit delivers ev unless the session already resolved. Deliveries are
// serialized so the terminal event is always the last one a sink sees.
func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.resolved {
		return
	}
	s.deliver(ev)
}

func (s *Session) deliver(ev Event) {
	if s.sink == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Session = s.key
	s.sink(ev)
}

// resolve moves the session to a terminal state exactly once: it deletes
// leftover temp files, leaves the registry and emits the terminal event.
// Later calls are no-ops and report false.
func (s *Session) resolve(state State, res Result, err error) bool {
	fired := false
	s.once.Do(func() {
		fired = true

		s.mu.Lock()
		s.state = state
		s.result = res
		s.err = err
		temps := make([]string, 0, len(s.temps))
		for p := range s.temps {
			temps = append(temps, p)
		}
		s.temps = map[string]struct{}{}
		s.handle = nil
		s.mu.Unlock()

		for _, p := range temps {
			removeQuietly(s.log, p)
		}
		next := s.registry.release(s)
		s.mu.Lock()
		s.successor = next
		s.mu.Unlock()

		var ev Event
		switch state {
		case Completed:
			r := res
			ev = Event{Kind: EventCompleted, FilePath: res.FilePath, Result: &r}
		case Cancelled:
			ev = Event{Kind: EventCancelled}
		default:
			ev = Event{Kind: EventError, Error: errorText(err)}
		}

		s.emitMu.Lock()
		s.resolved = true
		s.deliver(ev)
		s.emitMu.Unlock()

		s.cancel()
		close(s.done)
	})
	return fired
}

// takeSuccessor returns the session queued behind s, at most once.
func (s *Session) takeSuccessor() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.successor
	s.successor = nil
	return next
}

func errorText(err error) string {
	if err == nil {
		return "download failed"
	}
	return err.Error()
}
