package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultIdleExpiry is how long an untouched session survives before
// the manager prunes it.
const DefaultIdleExpiry = 2 * time.Hour

// Session ties one browser session to its state, a conversion lock and
// a rate limiter. Conversions within a session run strictly one at a
// time; sessions never share mutable state with each other.
type Session struct {
	ID    string
	Store *Store

	// ConvertMu serializes conversions for this session.
	ConvertMu sync.Mutex

	Limiter *rate.Limiter

	mu       sync.Mutex
	lastSeen time.Time
}

// Touch records activity on the session.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns the time of the most recent activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Manager is a uuid-keyed registry of sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	limit      rate.Limit
	burst      int
	idleExpiry time.Duration
	now        func() time.Time

	// onPrune lets the owner release per-session resources (cache
	// directories) when a session expires.
	onPrune func(id string)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRateLimit sets the per-session conversion rate limit.
func WithRateLimit(limit rate.Limit, burst int) ManagerOption {
	return func(m *Manager) {
		m.limit = limit
		m.burst = burst
	}
}

// WithIdleExpiry sets how long idle sessions are kept.
func WithIdleExpiry(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.idleExpiry = d
		}
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithPruneHook registers a callback invoked with each pruned session
// ID.
func WithPruneHook(hook func(id string)) ManagerOption {
	return func(m *Manager) { m.onPrune = hook }
}

// NewManager creates an empty session registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:   make(map[string]*Session),
		limit:      rate.Every(2 * time.Second),
		burst:      3,
		idleExpiry: DefaultIdleExpiry,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the session for an ID, when it exists.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.Touch(m.now())
	}
	return s, ok
}

// Create registers a fresh session and returns it.
func (m *Manager) Create() *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Store:    NewStore(),
		Limiter:  rate.NewLimiter(m.limit, m.burst),
		lastSeen: m.now(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// GetOrCreate returns the session for an ID, creating one when the ID
// is unknown or empty.
func (m *Manager) GetOrCreate(id string) *Session {
	if id != "" {
		if s, ok := m.Get(id); ok {
			return s
		}
	}
	return m.Create()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// PruneIdle drops sessions idle longer than the expiry and returns how
// many were removed.
func (m *Manager) PruneIdle() int {
	cutoff := m.now().Add(-m.idleExpiry)

	m.mu.Lock()
	var pruned []string
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(m.sessions, id)
			pruned = append(pruned, id)
		}
	}
	m.mu.Unlock()

	if m.onPrune != nil {
		for _, id := range pruned {
			m.onPrune(id)
		}
	}
	return len(pruned)
}
