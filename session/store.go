package session

import "sync"

// Store is a mutex-guarded cell around a session's State. All reads
// and writes go through Snapshot and Dispatch so the transition rules
// in Apply are the only way state changes.
type Store struct {
	mu    sync.RWMutex
	state State
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Dispatch applies an event and returns the resulting state.
func (s *Store) Dispatch(ev Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Apply(s.state, ev)
	return s.state
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
