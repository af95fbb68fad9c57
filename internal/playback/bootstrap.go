/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/jammy/internal/models"
	"github.com/friendsincode/jammy/internal/telemetry"
)

// Recover replays missed advances for every active session after a restart.
// For a playing session the true elapsed time is now minus the stored
// anchor; each song whose duration fits inside that elapsed time is marked
// played, and the timer is re-armed for the residual of the song the
// elapsed time lands in. The end state is identical to every missed timer
// having fired on schedule.
//
// Paused sessions need no catch-up: their position is frozen and no timer
// was due.
func (s *Service) Recover(ctx context.Context) error {
	sessions, err := s.store.ActiveSessions(ctx)
	if err != nil {
		return err
	}

	for i := range sessions {
		telemetry.ActiveSessions.Inc()
		if err := s.recoverSession(ctx, &sessions[i]); err != nil {
			s.logger.Error().Err(err).
				Str("session_id", sessions[i].ID).
				Msg("session recovery failed")
		}
	}

	s.logger.Info().Int("sessions", len(sessions)).Msg("playback recovery complete")
	return nil
}

func (s *Service) recoverSession(ctx context.Context, stale *models.Session) error {
	lock := s.sessionLock(stale.ID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.SessionByID(ctx, stale.ID)
	if err != nil {
		return err
	}
	if session.State() != models.StatePlaying {
		return nil
	}

	now := s.now()
	elapsedMS := now.Sub(*session.StartedAt).Milliseconds()
	if elapsedMS < 0 {
		elapsedMS = 0
	}

	advanced := 0
	for {
		song, err := s.store.SongByID(ctx, *session.CurrentSongID)
		if err != nil {
			return err
		}

		if elapsedMS < song.DurationMS {
			if advanced > 0 {
				anchor := now.Add(-time.Duration(elapsedMS) * time.Millisecond)
				session.StartedAt = &anchor
				session.PausedOffsetMS = 0
				session.Revision++
				if err := s.store.SaveSession(ctx, session); err != nil {
					return err
				}
			}
			remaining := time.Duration(song.DurationMS-elapsedMS) * time.Millisecond
			s.sched.Arm(session.ID, session.Revision, remaining)

			s.logger.Info().
				Str("session_id", session.ID).
				Int("caught_up", advanced).
				Int64("position_ms", elapsedMS).
				Dur("remaining", remaining).
				Msg("session recovered")
			return nil
		}

		// The song finished while the process was down.
		elapsedMS -= song.DurationMS
		if err := s.store.MarkPlayed(ctx, *session.CurrentEntryID); err != nil {
			return err
		}
		advanced++

		next, err := s.store.HeadEntry(ctx, session.ID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			s.logger.Info().
				Str("session_id", session.ID).
				Int("caught_up", advanced).
				Msg("session recovered into exhausted queue")
			return s.exhaustLocked(ctx, session)
		}

		session.CurrentEntryID = &next.ID
		session.CurrentSongID = &next.SongID
	}
}
