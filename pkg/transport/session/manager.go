package session

import (
	"sync"
	"time"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
)

const (
	// DefaultIdleTimeout is how long a session may sit without activity
	// before the sweeper closes it.
	DefaultIdleTimeout = 300 * time.Second

	// DefaultSweepInterval is how often the idle sweeper runs.
	DefaultSweepInterval = 60 * time.Second

	// DefaultMaxSessions is the global bound on concurrent sessions.
	DefaultMaxSessions = 10
)

// Manager holds the session table with idle cleanup and a global bound.
// It is the single writer for the table; sessions own their streams and the
// manager keeps only bookkeeping entries.
type Manager struct {
	sessions map[string]*SSESession
	mu       sync.RWMutex

	idleTimeout   time.Duration
	sweepInterval time.Duration
	maxSessions   int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout overrides the idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithSweepInterval overrides the sweeper interval.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepInterval = d }
}

// WithMaxSessions overrides the global session bound.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.maxSessions = n }
}

// NewManager creates a session manager and starts the idle sweeper.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:      make(map[string]*SSESession),
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		maxSessions:   DefaultMaxSessions,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepRoutine()
	return m
}

func (m *Manager) sweepRoutine() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CleanupExpired()
		case <-m.stopCh:
			return
		}
	}
}

// Add registers a session. When the table is full, the least-recently-active
// session is evicted and its stream closed gracefully to admit the new one.
func (m *Manager) Add(s *SSESession) error {
	m.mu.Lock()

	if _, exists := m.sessions[s.ID()]; exists {
		m.mu.Unlock()
		return ErrSessionAlreadyExists
	}

	var evicted *SSESession
	if len(m.sessions) >= m.maxSessions {
		evicted = m.oldestLocked()
		if evicted != nil {
			delete(m.sessions, evicted.ID())
		}
	}
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if evicted != nil {
		logger.Infow("evicting least-recently-active session",
			"session_id", evicted.ID(),
			"idle", time.Since(evicted.UpdatedAt()).String(),
		)
		evicted.Disconnect()
	}
	return nil
}

// oldestLocked returns the least-recently-active session. Caller holds mu.
func (m *Manager) oldestLocked() *SSESession {
	var oldest *SSESession
	for _, s := range m.sessions {
		if oldest == nil || s.UpdatedAt().Before(oldest.UpdatedAt()) {
			oldest = s
		}
	}
	return oldest
}

// Get retrieves a session by ID and updates its activity timestamp.
func (m *Manager) Get(id string) (*SSESession, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.Touch()
	return s, true
}

// Delete removes a session by ID. The caller is responsible for
// disconnecting it.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupExpired disconnects and removes sessions idle past the timeout.
func (m *Manager) CleanupExpired() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var expired []*SSESession
	for id, s := range m.sessions {
		if s.UpdatedAt().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		logger.Infow("closing idle session", "session_id", s.ID(), "peer", s.PeerAddr())
		s.Disconnect()
	}
}

// Range calls fn for each session until fn returns false.
func (m *Manager) Range(fn func(s *SSESession) bool) {
	m.mu.RLock()
	snapshot := make([]*SSESession, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

// Stop stops the sweeper and disconnects every session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	all := make([]*SSESession, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Disconnect()
	}
}
