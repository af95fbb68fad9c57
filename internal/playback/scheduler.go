/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AdvanceFunc is invoked when a session's timer elapses. The revision is the
// one the timer was armed against; the callee must drop the call if the
// session has moved on.
type AdvanceFunc func(ctx context.Context, sessionID string, revision int64)

// Scheduler keeps at most one live timer per session. Arming a session
// cancels any previous timer for it, so a pause/resume/skip cycle can never
// leave two timers racing for the same session.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*sessionTimer
	advance AdvanceFunc
	logger  zerolog.Logger
}

type sessionTimer struct {
	timer    *time.Timer
	revision int64
}

// NewScheduler creates a scheduler that calls advance on expiry.
func NewScheduler(advance AdvanceFunc, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		timers:  make(map[string]*sessionTimer),
		advance: advance,
		logger:  logger.With().Str("component", "advance-scheduler").Logger(),
	}
}

// Arm installs a timer for the session, superseding any existing one.
// The duration is the song's remaining time at arm, recomputed by the caller
// from duration minus position so re-arming never accumulates drift.
func (s *Scheduler) Arm(sessionID string, revision int64, remaining time.Duration) {
	if remaining < 0 {
		remaining = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[sessionID]; ok {
		existing.timer.Stop()
	}

	st := &sessionTimer{revision: revision}
	st.timer = time.AfterFunc(remaining, func() {
		s.fire(sessionID, revision)
	})
	s.timers[sessionID] = st

	s.logger.Debug().
		Str("session_id", sessionID).
		Int64("revision", revision).
		Dur("remaining", remaining).
		Msg("timer armed")
}

// Cancel stops the session's timer if one is live.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[sessionID]; ok {
		existing.timer.Stop()
		delete(s.timers, sessionID)
	}
}

// Stop cancels every timer. Called on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, st := range s.timers {
		st.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(sessionID string, revision int64) {
	s.mu.Lock()
	if current, ok := s.timers[sessionID]; ok && current.revision == revision {
		delete(s.timers, sessionID)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.advance(ctx, sessionID, revision)
}
