package server

import (
	"slices"
	"sync"
)

// SessionRegistry tracks the calls currently attached to this process. The
// health endpoint reports the live count and shutdown logs what was still
// connected.
type SessionRegistry struct {
	mu    sync.Mutex
	calls map[string]int
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{calls: make(map[string]int)}
}

// Register records a live session for callID and returns its release
// function. The platform may reconnect a call while the stale socket is
// still tearing down, so the same call id can briefly be registered twice.
func (r *SessionRegistry) Register(callID string) (release func()) {
	r.mu.Lock()
	r.calls[callID]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.calls[callID] <= 1 {
				delete(r.calls, callID)
			} else {
				r.calls[callID]--
			}
		})
	}
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

// ActiveCalls returns the sorted call ids with at least one live session.
func (r *SessionRegistry) ActiveCalls() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.calls))
	for id := range r.calls {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}
