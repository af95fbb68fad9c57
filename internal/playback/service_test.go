/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/jammy/internal/config"
	"github.com/friendsincode/jammy/internal/events"
	"github.com/friendsincode/jammy/internal/models"
	"github.com/friendsincode/jammy/internal/store"
	"github.com/friendsincode/jammy/internal/telemetry"
)

type fixture struct {
	svc     *Service
	store   *store.Store
	bus     *events.Bus
	room    *models.Room
	session *models.Session
	hostID  string
	clock   *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testConfig() *config.Config {
	return &config.Config{
		AutoStartOnAdd:       true,
		QueueExhaustedPolicy: config.ExhaustedIdle,
		RecentlyPlayedLimit:  25,
	}
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Room{}, &models.RoomMember{},
		&models.Song{}, &models.Session{}, &models.QueueEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := store.New(db)
	bus := events.NewBus()
	svc := New(st, bus, cfg, zerolog.Nop())
	t.Cleanup(svc.Stop)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = clock.Now

	ctx := context.Background()
	hostID := uuid.NewString()
	room := &models.Room{Name: "test room", HostID: hostID}
	if err := st.CreateRoom(ctx, room); err != nil {
		t.Fatalf("create room: %v", err)
	}
	session, err := svc.StartSession(ctx, room.ID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	return &fixture{svc: svc, store: st, bus: bus, room: room, session: session, hostID: hostID, clock: clock}
}

func (f *fixture) addSong(t *testing.T, title string, durationMS int64, addedBy string) *models.QueueEntry {
	t.Helper()
	song := &models.Song{SpotifyID: uuid.NewString(), Title: title, DurationMS: durationMS}
	entry, err := f.svc.AddToQueue(context.Background(), f.session.ID, addedBy, song)
	if err != nil {
		t.Fatalf("AddToQueue(%s): %v", title, err)
	}
	return entry
}

func (f *fixture) reload(t *testing.T) *models.Session {
	t.Helper()
	session, err := f.store.SessionByID(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	return session
}

func TestStartSessionConflict(t *testing.T) {
	f := newFixture(t, testConfig())

	if _, err := f.svc.StartSession(context.Background(), f.room.ID); !errors.Is(err, ErrActiveSessionExists) {
		t.Errorf("second StartSession err = %v, want ErrActiveSessionExists", err)
	}
}

func TestAutoStartOnAdd(t *testing.T) {
	f := newFixture(t, testConfig())

	f.addSong(t, "first", 180000, f.hostID)

	session := f.reload(t)
	if session.State() != models.StatePlaying {
		t.Fatalf("state = %q, want playing after auto-start", session.State())
	}
	if session.Revision != 1 {
		t.Errorf("revision = %d, want 1", session.Revision)
	}
}

func TestAddWithoutAutoStartStaysIdle(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	f := newFixture(t, cfg)

	f.addSong(t, "first", 180000, f.hostID)

	session := f.reload(t)
	if session.State() != models.StateIdle {
		t.Fatalf("state = %q, want idle", session.State())
	}

	snap, err := f.svc.Snapshot(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Queue) != 1 {
		t.Errorf("queue length = %d, want 1", len(snap.Queue))
	}
}

func TestPlayStartsQueueHead(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	f := newFixture(t, cfg)

	entry := f.addSong(t, "first", 180000, f.hostID)
	f.addSong(t, "second", 200000, f.hostID)

	if err := f.svc.Play(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Play: %v", err)
	}

	session := f.reload(t)
	if session.State() != models.StatePlaying {
		t.Fatalf("state = %q, want playing", session.State())
	}
	if session.CurrentEntryID == nil || *session.CurrentEntryID != entry.ID {
		t.Errorf("current entry = %v, want %s", session.CurrentEntryID, entry.ID)
	}
}

func TestPlayRequiresHost(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	f := newFixture(t, cfg)
	f.addSong(t, "first", 180000, f.hostID)

	err := f.svc.Play(context.Background(), f.session.ID, uuid.NewString())
	if !errors.Is(err, ErrNotHost) {
		t.Errorf("Play by non-host err = %v, want ErrNotHost", err)
	}
}

func TestPlayEmptyQueue(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	f := newFixture(t, cfg)

	err := f.svc.Play(context.Background(), f.session.ID, f.hostID)
	if !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Play on empty queue err = %v, want ErrQueueEmpty", err)
	}
}

func TestPlayWhilePlayingRejected(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)

	err := f.svc.Play(context.Background(), f.session.ID, f.hostID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Play while playing err = %v, want ErrInvalidState", err)
	}
}

func TestPauseStoresDerivedPosition(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)

	f.clock.Advance(90 * time.Second)
	if err := f.svc.Pause(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	session := f.reload(t)
	if session.State() != models.StatePaused {
		t.Fatalf("state = %q, want paused", session.State())
	}
	if session.PausedOffsetMS != 90000 {
		t.Errorf("PausedOffsetMS = %d, want 90000", session.PausedOffsetMS)
	}
	if session.StartedAt != nil {
		t.Error("StartedAt should be cleared while paused")
	}
}

func TestPauseWhenNotPlaying(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	f := newFixture(t, cfg)

	err := f.svc.Pause(context.Background(), f.session.ID, f.hostID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Pause while idle err = %v, want ErrInvalidState", err)
	}
}

func TestResumeRoundTrip(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)

	f.clock.Advance(50 * time.Second)
	if err := f.svc.Pause(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// Time passing while paused must not move the position.
	f.clock.Advance(10 * time.Minute)
	if err := f.svc.Resume(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	snap, err := f.svc.Snapshot(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.PositionMS != 50000 {
		t.Errorf("position after resume = %d, want 50000", snap.PositionMS)
	}

	// And it advances normally afterwards.
	f.clock.Advance(10 * time.Second)
	snap, err = f.svc.Snapshot(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.PositionMS != 60000 {
		t.Errorf("position 10s after resume = %d, want 60000", snap.PositionMS)
	}
}

func TestResumeWhenNotPaused(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)

	err := f.svc.Resume(context.Background(), f.session.ID, f.hostID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume while playing err = %v, want ErrInvalidState", err)
	}
}

func TestSkipAdvancesExactlyOnce(t *testing.T) {
	f := newFixture(t, testConfig())
	first := f.addSong(t, "first", 180000, f.hostID)
	second := f.addSong(t, "second", 200000, f.hostID)

	if err := f.svc.Skip(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	session := f.reload(t)
	if session.CurrentEntryID == nil || *session.CurrentEntryID != second.ID {
		t.Fatalf("current entry = %v, want %s", session.CurrentEntryID, second.ID)
	}

	entry, err := f.store.EntryByID(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("EntryByID: %v", err)
	}
	if !entry.Played {
		t.Error("skipped entry should be marked played")
	}
}

func TestSkipLastSongExhaustsIdlePolicy(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "only", 180000, f.hostID)

	if err := f.svc.Skip(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	session := f.reload(t)
	if !session.IsActive {
		t.Error("idle policy should keep session active")
	}
	if !session.Exhausted {
		t.Error("session should be flagged exhausted")
	}
	if session.CurrentEntryID != nil {
		t.Error("current entry should be cleared")
	}
}

func TestExhaustedClosePolicyEndsSession(t *testing.T) {
	cfg := testConfig()
	cfg.QueueExhaustedPolicy = config.ExhaustedClose
	f := newFixture(t, cfg)
	f.addSong(t, "only", 180000, f.hostID)

	if err := f.svc.Skip(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	session := f.reload(t)
	if session.IsActive {
		t.Error("close policy should end the session")
	}
	if session.EndedAt == nil {
		t.Error("EndedAt should be stamped")
	}
}

func TestExhaustedSessionRestartsOnAdd(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "only", 180000, f.hostID)
	if err := f.svc.Skip(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	f.addSong(t, "encore", 240000, f.hostID)

	session := f.reload(t)
	if session.State() != models.StatePlaying {
		t.Fatalf("state = %q, want playing after add to exhausted session", session.State())
	}
	if session.Exhausted {
		t.Error("exhausted flag should clear when playback restarts")
	}
}

func TestStaleAdvanceIsNoOp(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)
	f.addSong(t, "second", 200000, f.hostID)
	f.addSong(t, "third", 240000, f.hostID)

	armed := f.reload(t).Revision

	// A manual skip supersedes the revision the timer was armed against.
	if err := f.svc.Skip(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	after := f.reload(t)

	f.svc.advanceFromTimer(context.Background(), f.session.ID, armed)

	session := f.reload(t)
	if session.Revision != after.Revision {
		t.Errorf("stale fire changed revision %d -> %d", after.Revision, session.Revision)
	}
	if *session.CurrentEntryID != *after.CurrentEntryID {
		t.Error("stale fire advanced the queue")
	}
}

func TestCurrentRevisionAdvanceApplies(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)
	second := f.addSong(t, "second", 200000, f.hostID)

	session := f.reload(t)
	f.svc.advanceFromTimer(context.Background(), f.session.ID, session.Revision)

	session = f.reload(t)
	if session.CurrentEntryID == nil || *session.CurrentEntryID != second.ID {
		t.Errorf("current entry = %v, want %s", session.CurrentEntryID, second.ID)
	}
}

func TestRemoveFromQueueOwner(t *testing.T) {
	f := newFixture(t, testConfig())
	memberID := uuid.NewString()
	f.addSong(t, "playing", 180000, f.hostID)
	entry := f.addSong(t, "mine", 200000, memberID)

	if err := f.svc.RemoveFromQueue(context.Background(), f.session.ID, entry.ID, memberID); err != nil {
		t.Fatalf("RemoveFromQueue by owner: %v", err)
	}
}

func TestRemoveFromQueueHostOverride(t *testing.T) {
	f := newFixture(t, testConfig())
	memberID := uuid.NewString()
	f.addSong(t, "playing", 180000, f.hostID)
	entry := f.addSong(t, "theirs", 200000, memberID)

	if err := f.svc.RemoveFromQueue(context.Background(), f.session.ID, entry.ID, f.hostID); err != nil {
		t.Fatalf("RemoveFromQueue by host: %v", err)
	}
}

func TestRemoveFromQueueForbiddenForStranger(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "playing", 180000, f.hostID)
	entry := f.addSong(t, "theirs", 200000, uuid.NewString())

	err := f.svc.RemoveFromQueue(context.Background(), f.session.ID, entry.ID, uuid.NewString())
	if !errors.Is(err, ErrNotEntryOwner) {
		t.Errorf("RemoveFromQueue by stranger err = %v, want ErrNotEntryOwner", err)
	}
}

func TestRemoveCurrentEntryRejected(t *testing.T) {
	f := newFixture(t, testConfig())
	entry := f.addSong(t, "playing", 180000, f.hostID)

	err := f.svc.RemoveFromQueue(context.Background(), f.session.ID, entry.ID, f.hostID)
	if !errors.Is(err, ErrCurrentEntry) {
		t.Errorf("remove current entry err = %v, want ErrCurrentEntry", err)
	}
}

func TestRemovePlayedEntryRejected(t *testing.T) {
	f := newFixture(t, testConfig())
	first := f.addSong(t, "first", 180000, f.hostID)
	second := f.addSong(t, "second", 200000, f.hostID)

	// Skip marks the first entry played and starts the second.
	if err := f.svc.Skip(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	err := f.svc.RemoveFromQueue(context.Background(), f.session.ID, first.ID, f.hostID)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("remove played entry err = %v, want ErrRecordNotFound", err)
	}

	// The played row survives for the recently-played list, and the
	// current entry keeps its position.
	kept, err := f.store.EntryByID(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("played entry gone from history: %v", err)
	}
	if !kept.Played {
		t.Error("history entry lost its played flag")
	}
	current, err := f.store.EntryByID(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("reload current entry: %v", err)
	}
	if current.Position != second.Position {
		t.Errorf("current entry position shifted %d -> %d", second.Position, current.Position)
	}
}

func TestAdvanceTimerFireOutcomes(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)
	f.addSong(t, "second", 200000, f.hostID)

	applied := testutil.ToFloat64(telemetry.AdvanceTimerFires.WithLabelValues("applied"))
	stale := testutil.ToFloat64(telemetry.AdvanceTimerFires.WithLabelValues("stale"))

	armed := f.reload(t).Revision
	f.svc.advanceFromTimer(context.Background(), f.session.ID, armed)
	if got := testutil.ToFloat64(telemetry.AdvanceTimerFires.WithLabelValues("applied")); got != applied+1 {
		t.Errorf("applied fires = %v, want %v", got, applied+1)
	}

	// The revision moved when the advance applied, so the old one is stale.
	f.svc.advanceFromTimer(context.Background(), f.session.ID, armed)
	if got := testutil.ToFloat64(telemetry.AdvanceTimerFires.WithLabelValues("stale")); got != stale+1 {
		t.Errorf("stale fires = %v, want %v", got, stale+1)
	}
}

func TestActiveSessionsGaugeTracksLifecycle(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	before := testutil.ToFloat64(telemetry.ActiveSessions)

	hostID := uuid.NewString()
	room := &models.Room{Name: "gauge room", HostID: hostID}
	if err := f.store.CreateRoom(ctx, room); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := f.svc.StartSession(ctx, room.ID); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if got := testutil.ToFloat64(telemetry.ActiveSessions); got != before+1 {
		t.Errorf("gauge after start = %v, want %v", got, before+1)
	}

	if err := f.svc.EndSessionForRoom(ctx, room.ID, hostID); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if got := testutil.ToFloat64(telemetry.ActiveSessions); got != before {
		t.Errorf("gauge after end = %v, want %v", got, before)
	}
}

func TestSnapshotForJoiningConnection(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)
	f.addSong(t, "second", 200000, f.hostID)

	f.clock.Advance(50 * time.Second)
	if err := f.svc.Pause(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	snap, err := f.svc.Snapshot(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Playing {
		t.Error("snapshot should report not playing")
	}
	if snap.CurrentSong == nil || snap.CurrentSong.Title != "first" {
		t.Fatalf("current song = %+v, want first", snap.CurrentSong)
	}
	if snap.PositionMS != 50000 {
		t.Errorf("PositionMS = %d, want 50000", snap.PositionMS)
	}
	// The playing entry stays at the head of the pending queue.
	if len(snap.Queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(snap.Queue))
	}
	if snap.Queue[0].Song.Title != "first" {
		t.Errorf("queue head = %q, want first", snap.Queue[0].Song.Title)
	}
}

func TestPublishOrderAfterWrite(t *testing.T) {
	cfg := testConfig()
	cfg.AutoStartOnAdd = false
	f := newFixture(t, cfg)
	f.addSong(t, "first", 180000, f.hostID)

	sub := f.bus.Subscribe(events.EventPlaybackState)
	defer f.bus.Unsubscribe(events.EventPlaybackState, sub)

	if err := f.svc.Play(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Play: %v", err)
	}

	select {
	case payload := <-sub:
		snap, ok := payload["snapshot"].(*Snapshot)
		if !ok {
			t.Fatalf("payload snapshot type %T", payload["snapshot"])
		}
		// The broadcast must reflect the committed transition.
		if !snap.Playing {
			t.Error("broadcast snapshot should be playing")
		}
		if payload["room_id"] != f.room.ID {
			t.Errorf("room_id = %v, want %s", payload["room_id"], f.room.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no playback_state event published")
	}
}

func TestRecentlyPlayedViews(t *testing.T) {
	f := newFixture(t, testConfig())
	f.addSong(t, "first", 180000, f.hostID)
	f.addSong(t, "second", 200000, f.hostID)

	if err := f.svc.Skip(context.Background(), f.session.ID, f.hostID); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	recent, err := f.svc.RecentlyPlayed(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("RecentlyPlayed: %v", err)
	}
	if len(recent) != 1 || recent[0].Song.Title != "first" {
		t.Errorf("recent = %+v, want [first]", recent)
	}
}
