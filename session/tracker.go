package session

import (
	"errors"
	"sync"
)

// ErrConcurrentMutation is returned when a turn arrives for a session
// that is already mid-mutation. The caller resubmits; state is left
// exactly as it was.
var ErrConcurrentMutation = errors.New("session is already processing a mutation")

// Tracker serializes mutations per session id. Each session has one
// logical writer; different sessions proceed fully in parallel. The
// lock is a try-lock, never a queue: a losing caller is told to
// resubmit rather than blocking behind an in-flight model call.
type Tracker struct {
	mu    sync.Mutex
	slots map[string]*sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{slots: make(map[string]*sync.Mutex)}
}

// Acquire claims exclusive mutation rights for the session. It returns
// a release func on success, or ErrConcurrentMutation when another
// mutation is in flight.
func (t *Tracker) Acquire(sessionID string) (func(), error) {
	t.mu.Lock()
	slot, ok := t.slots[sessionID]
	if !ok {
		slot = &sync.Mutex{}
		t.slots[sessionID] = slot
	}
	t.mu.Unlock()

	if !slot.TryLock() {
		return nil, ErrConcurrentMutation
	}
	return slot.Unlock, nil
}
