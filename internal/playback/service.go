/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback owns the per-room session state machine: play, pause,
// resume, skip, timer-driven advance, and queue mutation. All transitions
// for a session serialize behind a per-session mutex, and every committed
// transition bumps the session revision so stale timers can be detected.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/jammy/internal/config"
	"github.com/friendsincode/jammy/internal/events"
	"github.com/friendsincode/jammy/internal/models"
	"github.com/friendsincode/jammy/internal/store"
	"github.com/friendsincode/jammy/internal/telemetry"
)

// Service is the playback state machine for every room on this instance.
type Service struct {
	store  *store.Store
	bus    *events.Bus
	sched  *Scheduler
	logger zerolog.Logger

	autoStart       bool
	exhaustedPolicy config.ExhaustedPolicy
	recentLimit     int

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// New creates the playback service.
func New(st *store.Store, bus *events.Bus, cfg *config.Config, logger zerolog.Logger) *Service {
	s := &Service{
		store:           st,
		bus:             bus,
		logger:          logger.With().Str("component", "playback").Logger(),
		autoStart:       cfg.AutoStartOnAdd,
		exhaustedPolicy: cfg.QueueExhaustedPolicy,
		recentLimit:     cfg.RecentlyPlayedLimit,
		locks:           make(map[string]*sync.Mutex),
		now:             func() time.Time { return time.Now().UTC() },
	}
	s.sched = NewScheduler(s.advanceFromTimer, logger)
	return s
}

// Stop cancels all armed timers. Called on shutdown.
func (s *Service) Stop() {
	s.sched.Stop()
}

// sessionLock returns the mutex serializing transitions for one session.
func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// StartSession opens a playback session for a room. A room holds at most one
// active session at a time.
func (s *Service) StartSession(ctx context.Context, roomID string) (*models.Session, error) {
	if _, err := s.store.ActiveSessionForRoom(ctx, roomID); err == nil {
		return nil, ErrActiveSessionExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	session := &models.Session{RoomID: roomID}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	telemetry.ActiveSessions.Inc()
	s.bus.Publish(events.EventSessionStarted, events.Payload{
		"room_id":    roomID,
		"session_id": session.ID,
	})
	return session, nil
}

// EndSessionForRoom deactivates the room's session and cancels its timer.
// Host-only; called when the host closes the room.
func (s *Service) EndSessionForRoom(ctx context.Context, roomID, userID string) error {
	session, err := s.store.ActiveSessionForRoom(ctx, roomID)
	if err != nil {
		return err
	}

	lock := s.sessionLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.requireHost(ctx, session.RoomID, userID); err != nil {
		return err
	}

	s.sched.Cancel(session.ID)
	if err := s.store.EndSession(ctx, session.ID); err != nil {
		return err
	}

	telemetry.ActiveSessions.Dec()
	s.bus.Publish(events.EventSessionEnded, events.Payload{
		"room_id":    roomID,
		"session_id": session.ID,
	})
	return nil
}

// requireHost verifies that userID is the room's host. Internal callers
// (timer fires, recovery) pass through by supplying an empty userID.
func (s *Service) requireHost(ctx context.Context, roomID, userID string) error {
	if userID == "" {
		return nil
	}
	room, err := s.store.RoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != userID {
		return ErrNotHost
	}
	return nil
}

// Play starts the head of the pending queue. Valid from idle or exhausted;
// a session already playing or paused rejects with ErrInvalidState.
func (s *Service) Play(ctx context.Context, sessionID, userID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return ErrSessionEnded
	}
	if err := s.requireHost(ctx, session.RoomID, userID); err != nil {
		return err
	}

	switch session.State() {
	case models.StatePlaying, models.StatePaused:
		return ErrInvalidState
	}

	head, err := s.store.HeadEntry(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrQueueEmpty
		}
		return err
	}

	return s.startEntry(ctx, session, head)
}

// Pause freezes playback at the derived position. Valid only while playing.
func (s *Service) Pause(ctx context.Context, sessionID, userID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return ErrSessionEnded
	}
	if err := s.requireHost(ctx, session.RoomID, userID); err != nil {
		return err
	}
	if session.State() != models.StatePlaying {
		return ErrInvalidState
	}

	song, err := s.store.SongByID(ctx, *session.CurrentSongID)
	if err != nil {
		return err
	}

	session.PausedOffsetMS = session.PositionAt(s.now(), song.DurationMS)
	session.StartedAt = nil
	session.Revision++
	if err := s.store.SaveSession(ctx, session); err != nil {
		return err
	}

	s.sched.Cancel(sessionID)
	s.publishState(ctx, session)
	return nil
}

// Resume reconstructs the playback anchor from the paused offset, so the
// derived position picks up exactly where Pause left it. Valid only while
// paused.
func (s *Service) Resume(ctx context.Context, sessionID, userID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return ErrSessionEnded
	}
	if err := s.requireHost(ctx, session.RoomID, userID); err != nil {
		return err
	}
	if session.State() != models.StatePaused {
		return ErrInvalidState
	}

	song, err := s.store.SongByID(ctx, *session.CurrentSongID)
	if err != nil {
		return err
	}

	// started_at = now - paused_offset: the position formula then yields
	// the paused offset at this instant and advances from there.
	anchor := s.now().Add(-time.Duration(session.PausedOffsetMS) * time.Millisecond)
	session.StartedAt = &anchor
	session.Revision++
	if err := s.store.SaveSession(ctx, session); err != nil {
		return err
	}

	remaining := time.Duration(song.DurationMS-session.PausedOffsetMS) * time.Millisecond
	s.sched.Arm(sessionID, session.Revision, remaining)
	s.publishState(ctx, session)
	return nil
}

// Skip advances past the current song. Valid while playing or paused.
func (s *Service) Skip(ctx context.Context, sessionID, userID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return ErrSessionEnded
	}
	if err := s.requireHost(ctx, session.RoomID, userID); err != nil {
		return err
	}

	switch session.State() {
	case models.StatePlaying, models.StatePaused:
		return s.advanceLocked(ctx, session)
	default:
		return ErrInvalidState
	}
}

// advanceFromTimer is the scheduler callback. A revision mismatch means a
// manual action superseded this timer after it was armed; the fire is
// dropped without touching state.
func (s *Service) advanceFromTimer(ctx context.Context, sessionID string, revision int64) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("advance: load session")
		return
	}
	if !session.IsActive {
		return
	}
	if session.Revision != revision {
		telemetry.AdvanceTimerFires.WithLabelValues("stale").Inc()
		s.logger.Debug().
			Str("session_id", sessionID).
			Int64("armed_revision", revision).
			Int64("current_revision", session.Revision).
			Msg("stale timer dropped")
		return
	}

	if err := s.advanceLocked(ctx, session); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("advance failed")
		return
	}
	telemetry.AdvanceTimerFires.WithLabelValues("applied").Inc()
}

// advanceLocked marks the current entry played and starts the next pending
// entry, or parks the session when the queue is exhausted. Caller holds the
// session lock.
func (s *Service) advanceLocked(ctx context.Context, session *models.Session) error {
	if session.CurrentEntryID != nil {
		if err := s.store.MarkPlayed(ctx, *session.CurrentEntryID); err != nil {
			return err
		}
	}

	next, err := s.store.HeadEntry(ctx, session.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return s.exhaustLocked(ctx, session)
	}

	return s.startEntry(ctx, session, next)
}

// exhaustLocked parks or ends the session when no pending entries remain,
// per the configured policy.
func (s *Service) exhaustLocked(ctx context.Context, session *models.Session) error {
	session.CurrentEntryID = nil
	session.CurrentSongID = nil
	session.StartedAt = nil
	session.PausedOffsetMS = 0
	session.Exhausted = true
	session.Revision++
	if err := s.store.SaveSession(ctx, session); err != nil {
		return err
	}

	s.sched.Cancel(session.ID)

	if s.exhaustedPolicy == config.ExhaustedClose {
		if err := s.store.EndSession(ctx, session.ID); err != nil {
			return err
		}
		session.IsActive = false
		telemetry.ActiveSessions.Dec()
		s.bus.Publish(events.EventSessionEnded, events.Payload{
			"room_id":    session.RoomID,
			"session_id": session.ID,
		})
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("room_id", session.RoomID).
		Str("policy", string(s.exhaustedPolicy)).
		Msg("queue exhausted")

	s.bus.Publish(events.EventNotification, events.Payload{
		"room_id":    session.RoomID,
		"session_id": session.ID,
		"message":    "queue is empty, add more songs",
	})

	s.publishState(ctx, session)
	s.publishQueue(ctx, session)
	return nil
}

// startEntry makes the given entry current, anchors playback at now, and
// arms the advance timer for the song's full duration. Caller holds the
// session lock.
func (s *Service) startEntry(ctx context.Context, session *models.Session, entry *models.QueueEntry) error {
	song, err := s.store.SongByID(ctx, entry.SongID)
	if err != nil {
		return err
	}

	now := s.now()
	session.CurrentEntryID = &entry.ID
	session.CurrentSongID = &entry.SongID
	session.StartedAt = &now
	session.PausedOffsetMS = 0
	session.Exhausted = false
	session.Revision++
	if err := s.store.SaveSession(ctx, session); err != nil {
		return err
	}

	s.sched.Arm(session.ID, session.Revision, time.Duration(song.DurationMS)*time.Millisecond)

	s.logger.Info().
		Str("session_id", session.ID).
		Str("room_id", session.RoomID).
		Str("song", song.Title).
		Int64("duration_ms", song.DurationMS).
		Msg("now playing")

	s.publishState(ctx, session)
	s.publishQueue(ctx, session)
	return nil
}

// AddToQueue appends a song occurrence to the pending queue. When the
// session is idle or exhausted and auto-start is enabled, playback begins
// immediately from the new entry.
func (s *Service) AddToQueue(ctx context.Context, sessionID, userID string, song *models.Song) (*models.QueueEntry, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, ErrSessionEnded
	}

	if err := s.store.UpsertSong(ctx, song); err != nil {
		return nil, err
	}

	entry := &models.QueueEntry{
		SessionID: sessionID,
		SongID:    song.ID,
		AddedByID: userID,
	}
	if err := s.store.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	state := session.State()
	if s.autoStart && (state == models.StateIdle || session.Exhausted) {
		head, err := s.store.HeadEntry(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := s.startEntry(ctx, session, head); err != nil {
			return nil, err
		}
		return entry, nil
	}

	s.publishQueue(ctx, session)
	return entry, nil
}

// RemoveFromQueue deletes a pending entry. Members may remove their own
// entries; the host may remove anyone's. The currently playing entry cannot
// be removed (skip it instead).
func (s *Service) RemoveFromQueue(ctx context.Context, sessionID, entryID, userID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return ErrSessionEnded
	}

	entry, err := s.store.EntryByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.SessionID != sessionID {
		return gorm.ErrRecordNotFound
	}
	// Played entries are history, not queue; they stay for the
	// recently-played list.
	if entry.Played {
		return gorm.ErrRecordNotFound
	}
	if session.CurrentEntryID != nil && *session.CurrentEntryID == entryID {
		return ErrCurrentEntry
	}

	if entry.AddedByID != userID {
		if err := s.requireHost(ctx, session.RoomID, userID); err != nil {
			if errors.Is(err, ErrNotHost) {
				return ErrNotEntryOwner
			}
			return err
		}
	}

	if err := s.store.RemoveEntry(ctx, entryID); err != nil {
		return err
	}

	s.publishQueue(ctx, session)
	return nil
}

// publishState broadcasts a fresh snapshot after the transition has been
// persisted, preserving write-then-notify ordering.
func (s *Service) publishState(ctx context.Context, session *models.Session) {
	snap, err := s.snapshotOf(ctx, session)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("snapshot for broadcast")
		return
	}
	s.bus.Publish(events.EventPlaybackState, events.Payload{
		"room_id":  session.RoomID,
		"snapshot": snap,
	})
}

func (s *Service) publishQueue(ctx context.Context, session *models.Session) {
	snap, err := s.snapshotOf(ctx, session)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("snapshot for queue broadcast")
		return
	}
	s.bus.Publish(events.EventQueueUpdate, events.Payload{
		"room_id":  session.RoomID,
		"snapshot": snap,
	})
}
