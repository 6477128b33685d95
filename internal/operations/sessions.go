package operations

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrTooManySessions is returned when the session table is full
var ErrTooManySessions = errors.New("too many sessions")

type session struct {
	registry *Registry
	lastUsed time.Time
}

// Sessions hands out isolated registries per session id. Each session
// shares the kind table of the base registry but owns its instances.
type Sessions struct {
	base   *Registry
	idle   time.Duration
	limit  int
	logger logrus.FieldLogger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessions creates a session table. idle <= 0 disables eviction and
// limit <= 0 lifts the cap on concurrent sessions.
func NewSessions(base *Registry, idle time.Duration, limit int, logger logrus.FieldLogger) *Sessions {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sessions{
		base:     base,
		idle:     idle,
		limit:    limit,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Get returns the registry for id, creating it on first use. An empty id
// selects the base registry. A full table is swept for idle sessions once
// before a new one is refused with ErrTooManySessions.
func (s *Sessions) Get(id string) (*Registry, error) {
	if id == "" {
		return s.base, nil
	}

	if reg, ok := s.touch(id); ok {
		return reg, nil
	}
	if s.full() {
		s.Evict()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		if s.limit > 0 && len(s.sessions) >= s.limit {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, s.limit)
		}
		sess = &session{registry: s.base.Fork()}
		s.sessions[id] = sess
		s.logger.WithField("session", id).Debug("Created session")
	}
	sess.lastUsed = s.now()
	return sess.registry, nil
}

// Peek returns the registry of an existing session, or the base registry
// when id is empty or unknown. It never creates a session.
func (s *Sessions) Peek(id string) *Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.registry
	}
	return s.base
}

func (s *Sessions) touch(id string) (*Registry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.lastUsed = s.now()
	return sess.registry, true
}

func (s *Sessions) full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit > 0 && len(s.sessions) >= s.limit
}

// Evict closes sessions idle for longer than the configured timeout and
// returns how many were removed.
func (s *Sessions) Evict() int {
	if s.idle <= 0 {
		return 0
	}

	s.mu.Lock()
	var stale []*session
	cutoff := s.now().Add(-s.idle)
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			stale = append(stale, sess)
			delete(s.sessions, id)
			s.logger.WithField("session", id).Debug("Evicted idle session")
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.registry.Reset()
		if err := sess.registry.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close evicted session")
		}
	}
	return len(stale)
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close releases every session
func (s *Sessions) Close() error {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	var errs []error
	for _, sess := range all {
		errs = append(errs, sess.registry.Close())
	}
	return errors.Join(errs...)
}
