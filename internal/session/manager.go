package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/statistics"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns the live sessions of a server. All sessions share one engine
// and one statistics collector.
type Manager struct {
	cfg    config.CompressionConfig
	engine compressor.Compressor
	log    *logrus.Logger
	stats  *statistics.Statistics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager(cfg config.CompressionConfig, engine compressor.Compressor, log *logrus.Logger, stats *statistics.Statistics) *Manager {
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	return &Manager{
		cfg:      cfg,
		engine:   engine,
		log:      log,
		stats:    stats,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session with a random ID.
func (m *Manager) Create() *Session {
	s := New(uuid.NewString(), m.cfg, m.engine, m.log, m.stats)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

// Get looks up a session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// IDs returns the live session IDs in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Busy returns how many sessions have a compression outstanding.
func (m *Manager) Busy() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.sessions {
		if s.Loading() {
			n++
		}
	}
	return n
}

// Statistics returns the shared statistics collector.
func (m *Manager) Statistics() *statistics.Statistics {
	return m.stats
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
