// Package session maps browser sessions to their upload component.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cellscan/internal/logging"
	"github.com/example/cellscan/internal/usecase"
)

// CookieName carries the session id.
const CookieName = "cellscan_session"

// Factory builds the component for a new session.
type Factory func(sessionID string) *usecase.ImageUpload

type entry struct {
	upload     *usecase.ImageUpload
	lastActive time.Time
	// open live-update connections; attached sessions never expire
	attached int
}

// Manager owns every live component and expires idle ones.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry

	factory Factory
	ttl     time.Duration
	metrics *usecase.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager returns a manager whose sessions expire after ttl of inactivity.
func NewManager(factory Factory, ttl time.Duration, metrics *usecase.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		factory:  factory,
		ttl:      ttl,
		metrics:  metrics,
		logger:   logger.Named("session_manager"),
		now:      time.Now,
	}
}

// Get returns the component for id and marks the session active.
func (m *Manager) Get(id string) (*usecase.ImageUpload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastActive = m.now()
	return e.upload, true
}

// GetOrCreate returns the session for id, starting a fresh one under a new
// id when id is unknown.
func (m *Manager) GetOrCreate(id string) (string, *usecase.ImageUpload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		e.lastActive = m.now()
		return id, e.upload, false
	}

	newID := uuid.NewString()
	e := &entry{upload: m.factory(newID), lastActive: m.now()}
	m.sessions[newID] = e
	m.metrics.SessionOpened()
	logging.WithSession(m.logger, newID).Info("session started")
	return newID, e.upload, true
}

// Attach pins the session while a live-update connection is open.
// The returned func releases the pin.
func (m *Manager) Attach(id string) func() {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		e.attached++
		e.lastActive = m.now()
	}
	m.mu.Unlock()
	if !ok {
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			e.attached--
			e.lastActive = m.now()
		})
	}
}

// Remove closes and forgets a session.
func (m *Manager) Remove(ctx context.Context, id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.close(ctx, id, e)
	}
}

// Cleanup closes sessions idle for longer than the TTL and reports how many.
func (m *Manager) Cleanup(ctx context.Context) int {
	cutoff := m.now().Add(-m.ttl)
	expired := make(map[string]*entry)

	m.mu.Lock()
	for id, e := range m.sessions {
		if e.attached == 0 && e.lastActive.Before(cutoff) {
			expired[id] = e
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for id, e := range expired {
		m.close(ctx, id, e)
	}
	return len(expired)
}

// Run expires idle sessions until ctx ends, then closes the rest.
func (m *Manager) Run(ctx context.Context) {
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			m.CloseAll(closeCtx)
			cancel()
			return
		case <-ticker.C:
			if n := m.Cleanup(ctx); n > 0 {
				m.logger.Info("expired idle sessions", zap.Int("count", n))
			}
		}
	}
}

// CloseAll closes every session.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for id, e := range all {
		m.close(ctx, id, e)
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) close(ctx context.Context, id string, e *entry) {
	e.upload.Close(ctx)
	m.metrics.SessionClosed()
	logging.WithSession(m.logger, id).Info("session closed")
}
