package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// SESSION STORAGE
// ============================================================================
// Thread-safe session storage with TTL-based expiry. The in-memory
// store suits single-node deployments; RedisStore covers distributed
// ones behind the same interface.

// Store is the session persistence contract. Get returns (nil, nil)
// when the session does not exist; not found is not an error at this
// layer, the manager decides what it means.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// MemoryStore implements Store with in-memory storage.
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	maxAge     time.Duration // session TTL (default: 1 hour)
	cleanupTTL time.Duration // cleanup interval (default: 5 minutes)

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// StoreOption is a functional option for configuring MemoryStore.
type StoreOption func(*MemoryStore)

// WithMaxAge sets the maximum idle age before a session expires.
func WithMaxAge(d time.Duration) StoreOption {
	return func(s *MemoryStore) {
		s.maxAge = d
	}
}

// WithCleanupInterval sets how often the cleanup routine runs.
func WithCleanupInterval(d time.Duration) StoreOption {
	return func(s *MemoryStore) {
		s.cleanupTTL = d
	}
}

// NewMemoryStore creates a new in-memory session store and starts its
// background cleanup goroutine. Call Close to stop it.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions:    make(map[string]*Session),
		maxAge:      1 * time.Hour,
		cleanupTTL:  5 * time.Minute,
		stopCleanup: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Get retrieves a session by ID. Returns nil, nil if not found or
// expired; actual removal of expired entries happens in cleanupLoop.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if time.Since(sess.LastTurnAt) > s.maxAge {
		return nil, nil
	}

	// Clones out, clones in: callers never share memory with the map.
	return sess.Clone(), nil
}

// Save creates or updates a session.
func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := sess.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.LastTurnAt.IsZero() {
		cp.LastTurnAt = cp.CreatedAt
	}

	s.sessions[sess.ID] = cp
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// cleanupLoop periodically removes expired sessions.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastTurnAt) > s.maxAge {
			delete(s.sessions, id)
		}
	}
}

// Stats returns current store statistics.
func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{SessionCount: len(s.sessions)}
	for _, sess := range s.sessions {
		stats.TotalTurns += sess.TotalTurns
		if sess.State == StateActive {
			stats.ActiveSessions++
		}
	}
	return stats
}

// StoreStats contains session store statistics.
type StoreStats struct {
	SessionCount   int `json:"session_count"`
	ActiveSessions int `json:"active_sessions"`
	TotalTurns     int `json:"total_turns"`
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
