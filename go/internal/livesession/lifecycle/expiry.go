package lifecycle

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/checkpoint/go/internal/livesession/registry"
	"github.com/rs/zerolog/log"
)

// ExpiredFunc is called after the scheduler stopped a checkpoint at its deadline
type ExpiredFunc func(sessionID string, revision uint64)

// SessionGuard runs fn while holding whatever lock serializes the session's
// commands. The scheduler clears the registry and calls ExpiredFunc inside it.
type SessionGuard func(sessionID string, fn func())

type armedTimer struct {
	timer    clockwork.Timer
	revision uint64
}

// ExpiryScheduler stops checkpoints when their deadline passes. There is at
// most one timer per session; arming a newer revision replaces the old timer.
type ExpiryScheduler struct {
	clock     clockwork.Clock
	store     Store
	onExpired ExpiredFunc
	guard     SessionGuard

	mu     sync.Mutex
	timers map[string]armedTimer
}

// NewExpiryScheduler creates a scheduler. In production pass
// clockwork.NewRealClock(); tests use a FakeClock.
func NewExpiryScheduler(clock clockwork.Clock, store Store, onExpired ExpiredFunc) *ExpiryScheduler {
	return &ExpiryScheduler{
		clock:     clock,
		store:     store,
		onExpired: onExpired,
		timers:    make(map[string]armedTimer),
	}
}

// SetOnExpired replaces the expiry callback. Must be called before the first Arm.
func (s *ExpiryScheduler) SetOnExpired(fn ExpiredFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = fn
}

// SetSessionGuard makes expiry take part in per-session ordering. Must be
// called before the first Arm.
func (s *ExpiryScheduler) SetSessionGuard(guard SessionGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = guard
}

// Arm schedules active to be stopped at its deadline. An older revision never
// replaces a newer one, so racing starts leave the latest timer in place.
func (s *ExpiryScheduler) Arm(sessionID string, active registry.Active) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[sessionID]; ok {
		if existing.revision > active.Revision {
			return
		}
		existing.timer.Stop()
	}

	wait := time.UnixMilli(active.Deadline).Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}

	revision := active.Revision
	// fire takes s.mu, and a clock may run an already-due callback inline
	timer := s.clock.AfterFunc(wait, func() {
		go s.fire(sessionID, revision)
	})
	s.timers[sessionID] = armedTimer{timer: timer, revision: revision}

	log.Debug().
		Str("session_id", sessionID).
		Uint64("revision", revision).
		Dur("wait", wait).
		Msg("armed checkpoint expiry")
}

// Cancel drops the session's timer if it belongs to revision or an older one
func (s *ExpiryScheduler) Cancel(sessionID string, revision uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.timers[sessionID]
	if !ok || existing.revision > revision {
		return
	}
	existing.timer.Stop()
	delete(s.timers, sessionID)
	log.Debug().Str("session_id", sessionID).Msg("cancelled checkpoint expiry")
}

func (s *ExpiryScheduler) fire(sessionID string, revision uint64) {
	s.mu.Lock()
	if existing, ok := s.timers[sessionID]; ok && existing.revision == revision {
		delete(s.timers, sessionID)
	}
	onExpired := s.onExpired
	guard := s.guard
	s.mu.Unlock()

	if guard == nil {
		s.expire(sessionID, revision, onExpired)
		return
	}
	guard(sessionID, func() {
		s.expire(sessionID, revision, onExpired)
	})
}

func (s *ExpiryScheduler) expire(sessionID string, revision uint64, onExpired ExpiredFunc) {
	// A checkpoint started after this timer was armed keeps running
	if !s.store.ClearRevision(sessionID, revision) {
		log.Debug().
			Str("session_id", sessionID).
			Uint64("revision", revision).
			Msg("expiry fired for superseded checkpoint")
		return
	}

	log.Info().
		Str("session_id", sessionID).
		Uint64("revision", revision).
		Msg("checkpoint expired")

	if onExpired != nil {
		onExpired(sessionID, revision)
	}
}

// Pending returns the number of armed timers
func (s *ExpiryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every armed timer
func (s *ExpiryScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sessionID, armed := range s.timers {
		armed.timer.Stop()
		log.Debug().Str("session_id", sessionID).Msg("cancelled expiry on shutdown")
	}
	s.timers = make(map[string]armedTimer)
}
