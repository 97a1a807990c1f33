// Package session holds the in-memory session registry. The store is an
// explicit object passed to request-handling contexts; there are no
// package-level registries.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicepipe/server/domain/entities"
	"github.com/voicepipe/server/internal/metrics"
)

// Store maps session ids to live sessions. Each session is only ever
// touched by its own request flow, so the store needs plain
// insert/lookup/delete semantics and nothing transactional.
type Store struct {
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*entities.Session

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewStore creates a session store. A zero ttl disables expiry.
func NewStore(ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *Store {
	return &Store{
		ttl:      ttl,
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*entities.Session),
		stopChan: make(chan struct{}),
	}
}

// GetOrCreate returns the session for id, creating it on first contact.
// An empty id creates a session with a generated id.
func (s *Store) GetOrCreate(id string) *entities.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			return sess
		}
	}

	sess := entities.NewSession(id)
	s.sessions[sess.ID] = sess
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	s.logger.Info("Session created", zap.String("session_id", sess.ID))
	return sess
}

// Get returns the session for id, or nil.
func (s *Store) Get(id string) *entities.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// Clear drops a session's history. Idempotent: clearing an unknown id
// reports existed=false and is otherwise a no-op.
func (s *Store) Clear(id string) (existed bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		s.logger.Warn("Clear requested for unknown session", zap.String("session_id", id))
		return false
	}
	sess.Clear()
	s.logger.Info("Session history cleared", zap.String("session_id", id))
	return true
}

// Delete removes a session from the registry entirely.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartJanitor begins the background expiry loop. No-op when ttl is zero.
func (s *Store) StartJanitor() {
	if s.ttl <= 0 {
		return
	}
	go s.janitorLoop()
	s.logger.Info("Session janitor started", zap.Duration("ttl", s.ttl))
}

// StopJanitor stops the background expiry loop.
func (s *Store) StopJanitor() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Store) janitorLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	// First sweep shortly after startup, then on the ticker.
	initialTimer := time.NewTimer(time.Minute)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.expireIdle()
		case <-ticker.C:
			s.expireIdle()
		}
	}
}

func (s *Store) expireIdle() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.LastActiveAt().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.sessions, id)
	}
	remaining := len(s.sessions)
	s.mu.Unlock()

	if len(expired) > 0 {
		if s.metrics != nil {
			s.metrics.SessionsExpired.Add(float64(len(expired)))
			s.metrics.ActiveSessions.Set(float64(remaining))
		}
		s.logger.Info("Expired idle sessions",
			zap.Int("expired", len(expired)),
			zap.Int("remaining", remaining))
	}
}
