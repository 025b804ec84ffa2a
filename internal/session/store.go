// ABOUTME: Thread-safe session store keyed by random ids with idle eviction.
// ABOUTME: A background sweep removes sessions inactive past the timeout.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/meili-gateway/internal/metrics"
)

// DefaultTimeout is the idle timeout used when none is configured.
const DefaultTimeout = time.Hour

// minSweepInterval bounds the derived sweep interval from below.
const minSweepInterval = time.Second

// maxCreateAttempts bounds id regeneration on collision.
const maxCreateAttempts = 5

// ErrIDExhausted is returned when no unused id could be generated.
var ErrIDExhausted = errors.New("could not allocate unique session id")

// Session is one live client session.
type Session struct {
	ID        string
	Transport Transport
	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
}

// LastActivity returns the time of the most recent routed request.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// Config configures a Store.
type Config struct {
	Timeout       time.Duration
	SweepInterval time.Duration // defaults to Timeout/60
	NewTransport  NewTransportFunc
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Clock         func() time.Time // defaults to time.Now
}

// Store holds active sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout       time.Duration
	sweepInterval time.Duration
	newTransport  NewTransportFunc
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	newID         func() (uuid.UUID, error)
}

// New creates a Store.
func New(cfg Config) (*Store, error) {
	if cfg.NewTransport == nil {
		return nil, errors.New("transport factory is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = timeout / 60
	}
	if interval < minSweepInterval {
		interval = minSweepInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Store{
		sessions:      make(map[string]*Session),
		timeout:       timeout,
		sweepInterval: interval,
		newTransport:  cfg.NewTransport,
		logger:        logger,
		metrics:       cfg.Metrics,
		now:           clock,
		newID:         uuid.NewRandom,
	}, nil
}

// Timeout returns the configured idle timeout.
func (s *Store) Timeout() time.Duration { return s.timeout }

// SweepInterval returns the effective sweep interval.
func (s *Store) SweepInterval() time.Duration { return s.sweepInterval }

// Create allocates a new session with a fresh transport.
func (s *Store) Create() (*Session, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("generating session id: %w", err)
		}
		key := id.String()

		s.mu.Lock()
		if _, taken := s.sessions[key]; taken {
			s.mu.Unlock()
			s.logger.Warn("session id collision, regenerating", "session_id", key)
			continue
		}
		now := s.now()
		sess := &Session{
			ID:           key,
			Transport:    s.newTransport(key),
			CreatedAt:    now,
			lastActivity: now,
		}
		s.sessions[key] = sess
		active := len(s.sessions)
		s.mu.Unlock()

		s.metrics.SessionCreated(active)
		s.logger.Info("session created", "session_id", key, "active", active)
		return sess, nil
	}
	return nil, ErrIDExhausted
}

// Get looks up a session without refreshing its activity.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Touch marks the session active now. Unknown ids are ignored.
func (s *Store) Touch(id string) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.touch(s.now())
}

// Remove deletes the session and closes its transport. It reports whether
// the session existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	active := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.metrics.SessionsActive(active)
	s.closeTransport(sess, "removed")
	return true
}

// EvictExpired removes every session idle for longer than timeout and
// returns how many were removed.
func (s *Store) EvictExpired(now time.Time, timeout time.Duration) int {
	var expired []*Session

	s.mu.Lock()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity()) > timeout {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	active := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range expired {
		s.closeTransport(sess, "idle timeout")
	}
	if len(expired) > 0 {
		s.metrics.SessionsEvicted(len(expired), active)
		s.logger.Info("evicted idle sessions", "count", len(expired), "active", active)
	}
	return len(expired)
}

// Sweep runs EvictExpired every sweep interval until ctx is canceled.
func (s *Store) Sweep(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Debug("session sweep started", "interval", s.sweepInterval, "timeout", s.timeout)
	for {
		select {
		case <-ticker.C:
			s.EvictExpired(s.now(), s.timeout)
		case <-ctx.Done():
			s.logger.Debug("session sweep stopped")
			return
		}
	}
}

// CloseAll closes every transport and empties the store.
func (s *Store) CloseAll() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		s.closeTransport(sess, "shutdown")
	}
	s.metrics.SessionsActive(0)
	if len(all) > 0 {
		s.logger.Info("closed all sessions", "count", len(all))
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// closeTransport closes a removed session's transport, logging failures.
func (s *Store) closeTransport(sess *Session, reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("transport close panicked", "session_id", sess.ID, "reason", reason, "panic", r)
		}
	}()
	if err := sess.Transport.Close(); err != nil {
		s.logger.Warn("closing transport", "session_id", sess.ID, "reason", reason, "error", err)
		return
	}
	s.logger.Debug("session closed", "session_id", sess.ID, "reason", reason)
}
