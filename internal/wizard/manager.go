package wizard

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hybrid-swap/internal/observability"
)

// ErrSessionNotFound is returned for unknown or closed session ids.
var ErrSessionNotFound = errors.New("session not found")

// Manager holds the open sessions of a process.
type Manager struct {
	base    context.Context
	deps    Deps
	metrics *observability.Metrics
	log     *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a Manager whose sessions share deps. Background work
// of every session runs under base.
func NewManager(base context.Context, deps Deps, metrics *observability.Metrics, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	deps.Log = log
	return &Manager{
		base:     base,
		deps:     deps,
		metrics:  metrics,
		log:      log.Named("sessions"),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Open starts a new session.
func (m *Manager) Open() *Session {
	s := NewSession(m.base, uuid.New(), m.deps)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionOpened()
	m.log.Debug("session opened", zap.Stringer("session", s.ID()), zap.Int("open", n))
	return s
}

// Get returns an open session.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close closes and forgets a session.
func (m *Manager) Close(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	m.metrics.SessionClosed()
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
		m.metrics.SessionClosed()
	}
}
