/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"testing"
	"time"

	"github.com/friendsincode/jammy/internal/config"
	"github.com/friendsincode/jammy/internal/models"
)

// seedPlayingSession puts the fixture session into a playing state whose
// anchor lies `elapsed` in the past, simulating a process that went down
// mid-song and came back.
func seedPlayingSession(t *testing.T, f *fixture, elapsed time.Duration, durationsMS ...int64) []*models.QueueEntry {
	t.Helper()
	ctx := context.Background()

	cfgOff := f.svc.autoStart
	f.svc.autoStart = false
	var entries []*models.QueueEntry
	for i, d := range durationsMS {
		entries = append(entries, f.addSongDur(t, i, d))
	}
	f.svc.autoStart = cfgOff

	session := f.reload(t)
	anchor := f.clock.Now().Add(-elapsed)
	session.CurrentEntryID = &entries[0].ID
	session.CurrentSongID = &entries[0].SongID
	session.StartedAt = &anchor
	session.Revision = 1
	if err := f.store.SaveSession(ctx, session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return entries
}

func (f *fixture) addSongDur(t *testing.T, i int, durationMS int64) *models.QueueEntry {
	t.Helper()
	titles := []string{"first", "second", "third", "fourth"}
	title := "song"
	if i < len(titles) {
		title = titles[i]
	}
	return f.addSong(t, title, durationMS, f.hostID)
}

func TestRecoverCatchUpAcrossTwoSongs(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	f := newFixture(t, cfg)

	// Session started 500s ago: 180s and 200s songs have finished, the
	// 240s song is 120s in.
	entries := seedPlayingSession(t, f, 500000*time.Millisecond, 180000, 200000, 240000)

	if err := f.svc.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	session := f.reload(t)
	if session.CurrentEntryID == nil || *session.CurrentEntryID != entries[2].ID {
		t.Fatalf("current entry = %v, want third song %s", session.CurrentEntryID, entries[2].ID)
	}

	for i := 0; i < 2; i++ {
		entry, err := f.store.EntryByID(context.Background(), entries[i].ID)
		if err != nil {
			t.Fatalf("EntryByID: %v", err)
		}
		if !entry.Played {
			t.Errorf("entry %d should be marked played", i)
		}
	}

	song, err := f.store.SongByID(context.Background(), *session.CurrentSongID)
	if err != nil {
		t.Fatalf("SongByID: %v", err)
	}
	if got := session.PositionAt(f.clock.Now(), song.DurationMS); got != 120000 {
		t.Errorf("recovered position = %d, want 120000", got)
	}
	if session.Revision != 2 {
		t.Errorf("revision = %d, want one bump from recovery", session.Revision)
	}
}

func TestRecoverWithinCurrentSong(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	f := newFixture(t, cfg)

	entries := seedPlayingSession(t, f, 90*time.Second, 180000, 200000)

	if err := f.svc.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	session := f.reload(t)
	if *session.CurrentEntryID != entries[0].ID {
		t.Errorf("current entry changed; recovery within the song should not advance")
	}
	if session.Revision != 1 {
		t.Errorf("revision = %d, want unchanged when nothing advanced", session.Revision)
	}

	song, err := f.store.SongByID(context.Background(), *session.CurrentSongID)
	if err != nil {
		t.Fatalf("SongByID: %v", err)
	}
	if got := session.PositionAt(f.clock.Now(), song.DurationMS); got != 90000 {
		t.Errorf("position = %d, want 90000", got)
	}
}

func TestRecoverIntoExhaustedQueue(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	f := newFixture(t, cfg)

	entries := seedPlayingSession(t, f, 1000*time.Second, 180000, 200000)

	if err := f.svc.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	session := f.reload(t)
	if !session.Exhausted {
		t.Error("session should be exhausted after overrunning the queue")
	}
	if session.CurrentEntryID != nil {
		t.Error("current entry should be cleared")
	}
	for i := range entries {
		entry, err := f.store.EntryByID(context.Background(), entries[i].ID)
		if err != nil {
			t.Fatalf("EntryByID: %v", err)
		}
		if !entry.Played {
			t.Errorf("entry %d should be marked played", i)
		}
	}
}

func TestRecoverExhaustedClosePolicy(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	cfg.QueueExhaustedPolicy = config.ExhaustedClose
	f := newFixture(t, cfg)

	seedPlayingSession(t, f, 1000*time.Second, 180000)

	if err := f.svc.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	session := f.reload(t)
	if session.IsActive {
		t.Error("close policy should end the session on exhausted recovery")
	}
}

func TestRecoverLeavesPausedSessionAlone(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)
	f.clock.Advance(42 * time.Second)
	if err := f.svc.Pause(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	before := f.reload(t)

	// Long downtime while paused.
	f.clock.Advance(2 * time.Hour)
	if err := f.svc.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	session := f.reload(t)
	if session.Revision != before.Revision {
		t.Error("recovery must not touch a paused session")
	}
	if session.PausedOffsetMS != 42000 {
		t.Errorf("PausedOffsetMS = %d, want 42000", session.PausedOffsetMS)
	}
}
