package session

import (
	"sort"
	"sync"
)

// Registry tracks the active session of each caller key and, per key, the
// latest request that arrived while that key was busy.
type Registry struct {
	mu      sync.Mutex
	active  map[string]*Session
	pending map[string]Request
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active:  map[string]*Session{},
		pending: map[string]Request{},
	}
}

// insert registers s unless its key is taken.
func (r *Registry) insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[s.key]; busy {
		return ErrSessionActive
	}
	r.active[s.key] = s
	return nil
}

// release drops s if it is still the active session of its key. A pending
// request for the key takes over the slot under the same lock, so no other
// request can claim the key in between; the new session is returned for the
// caller to run.
func (r *Registry) release(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[s.key]; !ok || cur != s {
		return nil
	}
	req, ok := r.pending[s.key]
	if !ok {
		delete(r.active, s.key)
		return nil
	}
	delete(r.pending, s.key)
	next := newSession(s.parent, s.key, req, s.sink, r, s.log)
	r.active[s.key] = next
	return next
}

// Get returns the active session for key.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[key]
	return s, ok
}

// Keys returns the keys with an active session, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.active))
	for k := range r.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// SetPending stores req for key, replacing any earlier pending request.
func (r *Registry) SetPending(key string, req Request) {
	r.mu.Lock()
	r.pending[key] = req
	r.mu.Unlock()
}

// TakePending removes and returns the pending request for key.
func (r *Registry) TakePending(key string) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	return req, ok
}

// insertOrQueue registers s, or stores its request as pending when the key
// is busy. It reports whether s was registered.
func (r *Registry) insertOrQueue(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[s.key]; busy {
		r.pending[s.key] = s.req
		return false
	}
	r.active[s.key] = s
	return true
}
