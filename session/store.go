package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config configures the session store.
type Config struct {
	// IdleTimeout is how long a session may stay inactive before the sweep
	// removes it.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// DefaultDeny flips the empty-allow-list policy from default-open to
	// default-closed. Security-relevant: the shipped default matches the
	// historical behavior (empty allow-list permits every tool).
	DefaultDeny bool `yaml:"default_deny" json:"default_deny"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   time.Hour,
		SweepInterval: 5 * time.Minute,
		DefaultDeny:   false,
	}
}

// Store maps session identifiers to live sessions. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	config   Config
	logger   *zap.Logger
}

// NewStore creates a session store.
func NewStore(config Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Store{
		sessions: make(map[string]*Session),
		config:   config,
		logger:   logger.With(zap.String("component", "session_store")),
	}
}

// Create allocates a fresh session with a generated identifier.
func (st *Store) Create() *Session {
	sess := newSession("", st.config.DefaultDeny)
	st.mu.Lock()
	st.sessions[sess.id] = sess
	st.mu.Unlock()

	st.logger.Debug("session created", zap.String("session_id", sess.id))
	return sess
}

// Get returns the session for id if it exists, recording activity on it.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	sess, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		sess.Touch()
	}
	return sess, ok
}

// GetOrCreate returns the existing session for id, or allocates a new one.
// An empty id always allocates. The second return reports whether the
// session is newly created. This is the sole entry point the dispatcher
// uses, so session identity is resolved exactly once per request.
func (st *Store) GetOrCreate(id string) (*Session, bool) {
	if id != "" {
		if sess, ok := st.Get(id); ok {
			return sess, false
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// Re-check under the write lock: a concurrent request may have created
	// the same id in the meantime.
	if id != "" {
		if sess, ok := st.sessions[id]; ok {
			return sess, false
		}
	}

	sess := newSession(id, st.config.DefaultDeny)
	st.sessions[sess.id] = sess
	st.logger.Debug("session created", zap.String("session_id", sess.id))
	return sess, true
}

// Delete removes a session. Idempotent.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// SweepExpired removes every session idle for longer than idleTimeout and
// returns how many were removed.
func (st *Store) SweepExpired(idleTimeout time.Duration) int {
	cutoff := time.Now().Add(-idleTimeout)

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, sess := range st.sessions {
		if sess.LastActivity().Before(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		st.logger.Info("swept expired sessions", zap.Int("removed", removed))
	}
	return removed
}

// Start runs the periodic idle-expiry sweep until ctx is cancelled. It runs
// independently of request handling; a sweep racing an in-flight request
// resolves by the dispatcher recreating the session on its next access.
func (st *Store) Start(ctx context.Context) {
	ticker := time.NewTicker(st.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.SweepExpired(st.config.IdleTimeout)
		}
	}
}

// Stats summarizes store state for observability.
type Stats struct {
	Sessions    int           `json:"sessions"`
	IdleTimeout time.Duration `json:"idle_timeout"`
}

// Stats returns a snapshot of store statistics.
func (st *Store) Stats() Stats {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return Stats{
		Sessions:    len(st.sessions),
		IdleTimeout: st.config.IdleTimeout,
	}
}
