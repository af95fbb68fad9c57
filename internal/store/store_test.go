/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/jammy/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.RoomMember{},
		&models.Song{},
		&models.Session{},
		&models.QueueEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func newTestSession(t *testing.T, s *Store) *models.Session {
	t.Helper()
	ctx := context.Background()
	room := &models.Room{Name: "test room", HostID: uuid.NewString()}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("create room: %v", err)
	}
	session := &models.Session{RoomID: room.ID}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func appendSong(t *testing.T, s *Store, sessionID string) *models.QueueEntry {
	t.Helper()
	ctx := context.Background()
	song := &models.Song{SpotifyID: uuid.NewString(), Title: "track", DurationMS: 180000}
	if err := s.UpsertSong(ctx, song); err != nil {
		t.Fatalf("upsert song: %v", err)
	}
	entry := &models.QueueEntry{SessionID: sessionID, SongID: song.ID, AddedByID: uuid.NewString()}
	if err := s.AppendEntry(ctx, entry); err != nil {
		t.Fatalf("append entry: %v", err)
	}
	return entry
}

func TestNewRoomCodeFormat(t *testing.T) {
	code, err := NewRoomCode()
	if err != nil {
		t.Fatalf("NewRoomCode: %v", err)
	}
	if len(code) != roomCodeLength {
		t.Errorf("code %q length = %d, want %d", code, len(code), roomCodeLength)
	}
	for _, r := range code {
		if !strings.ContainsRune(roomCodeAlphabet, r) {
			t.Errorf("code %q contains %q outside alphabet", code, r)
		}
	}
}

func TestCreateRoomAssignsIDAndCode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	room := &models.Room{Name: "friday night", HostID: uuid.NewString()}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.ID == "" || room.Code == "" {
		t.Fatalf("room missing id/code: %+v", room)
	}
	if !room.IsActive {
		t.Error("new room should be active")
	}

	found, err := s.RoomByCode(ctx, room.Code)
	if err != nil {
		t.Fatalf("RoomByCode: %v", err)
	}
	if found.ID != room.ID {
		t.Errorf("RoomByCode returned %s, want %s", found.ID, room.ID)
	}
}

func TestRoomByCodeIgnoresClosedRooms(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	room := &models.Room{Name: "done", HostID: uuid.NewString()}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := s.CloseRoom(ctx, room.ID); err != nil {
		t.Fatalf("CloseRoom: %v", err)
	}

	if _, err := s.RoomByCode(ctx, room.Code); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("RoomByCode for closed room: err = %v, want not found", err)
	}
}

func TestAddMemberIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	room := &models.Room{Name: "room", HostID: uuid.NewString()}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	userID := uuid.NewString()
	first := &models.RoomMember{RoomID: room.ID, UserID: userID, DisplayName: "alex"}
	if err := s.AddMember(ctx, first); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	again := &models.RoomMember{RoomID: room.ID, UserID: userID, DisplayName: "alex"}
	if err := s.AddMember(ctx, again); err != nil {
		t.Fatalf("AddMember twice: %v", err)
	}

	members, err := s.Members(ctx, room.ID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("len(members) = %d, want 1", len(members))
	}
}

func TestUpsertSongReusesRowPerSpotifyID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	song := &models.Song{SpotifyID: "track-abc", Title: "Original", DurationMS: 180000}
	if err := s.UpsertSong(ctx, song); err != nil {
		t.Fatalf("UpsertSong: %v", err)
	}

	updated := &models.Song{SpotifyID: "track-abc", Title: "Remastered", DurationMS: 181000}
	if err := s.UpsertSong(ctx, updated); err != nil {
		t.Fatalf("UpsertSong again: %v", err)
	}

	if updated.ID != song.ID {
		t.Errorf("second upsert created new row %s, want reuse of %s", updated.ID, song.ID)
	}
	found, err := s.SongBySpotifyID(ctx, "track-abc")
	if err != nil {
		t.Fatalf("SongBySpotifyID: %v", err)
	}
	if found.Title != "Remastered" {
		t.Errorf("Title = %q, want Remastered", found.Title)
	}
}

func TestAppendEntryAssignsDensePositions(t *testing.T) {
	s := openTestStore(t)
	session := newTestSession(t, s)
	ctx := context.Background()

	var entries []*models.QueueEntry
	for i := 0; i < 4; i++ {
		entries = append(entries, appendSong(t, s, session.ID))
	}
	for i, entry := range entries {
		if entry.Position != i {
			t.Errorf("entry %d position = %d, want %d", i, entry.Position, i)
		}
	}

	pending, err := s.PendingEntries(ctx, session.ID)
	if err != nil {
		t.Fatalf("PendingEntries: %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("len(pending) = %d, want 4", len(pending))
	}
}

func TestRemoveEntryCompactsPositions(t *testing.T) {
	s := openTestStore(t)
	session := newTestSession(t, s)
	ctx := context.Background()

	var entries []*models.QueueEntry
	for i := 0; i < 4; i++ {
		entries = append(entries, appendSong(t, s, session.ID))
	}

	if err := s.RemoveEntry(ctx, entries[1].ID); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}

	pending, err := s.PendingEntries(ctx, session.ID)
	if err != nil {
		t.Fatalf("PendingEntries: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len(pending) = %d, want 3", len(pending))
	}
	for i, entry := range pending {
		if entry.Position != i {
			t.Errorf("pending[%d].Position = %d, want %d", i, entry.Position, i)
		}
	}

	// The next append lands directly after the compacted tail.
	next := appendSong(t, s, session.ID)
	if next.Position != 3 {
		t.Errorf("next append position = %d, want 3", next.Position)
	}
}

func TestMarkPlayedAdvancesHead(t *testing.T) {
	s := openTestStore(t)
	session := newTestSession(t, s)
	ctx := context.Background()

	first := appendSong(t, s, session.ID)
	second := appendSong(t, s, session.ID)

	head, err := s.HeadEntry(ctx, session.ID)
	if err != nil {
		t.Fatalf("HeadEntry: %v", err)
	}
	if head.ID != first.ID {
		t.Errorf("head = %s, want %s", head.ID, first.ID)
	}

	if err := s.MarkPlayed(ctx, first.ID); err != nil {
		t.Fatalf("MarkPlayed: %v", err)
	}

	head, err = s.HeadEntry(ctx, session.ID)
	if err != nil {
		t.Fatalf("HeadEntry after MarkPlayed: %v", err)
	}
	if head.ID != second.ID {
		t.Errorf("head = %s, want %s", head.ID, second.ID)
	}
}

func TestHeadEntryExhausted(t *testing.T) {
	s := openTestStore(t)
	session := newTestSession(t, s)
	ctx := context.Background()

	if _, err := s.HeadEntry(ctx, session.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("HeadEntry on empty queue: err = %v, want not found", err)
	}
}

func TestRecentlyPlayedNewestFirst(t *testing.T) {
	s := openTestStore(t)
	session := newTestSession(t, s)
	ctx := context.Background()

	var played []*models.QueueEntry
	for i := 0; i < 3; i++ {
		entry := appendSong(t, s, session.ID)
		if err := s.MarkPlayed(ctx, entry.ID); err != nil {
			t.Fatalf("MarkPlayed: %v", err)
		}
		played = append(played, entry)
		time.Sleep(5 * time.Millisecond)
	}

	recent, err := s.RecentlyPlayed(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("RecentlyPlayed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].ID != played[2].ID {
		t.Errorf("recent[0] = %s, want most recent %s", recent[0].ID, played[2].ID)
	}
}

func TestActiveSessionsForRecovery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	active := newTestSession(t, s)
	ended := newTestSession(t, s)
	if err := s.EndSession(ctx, ended.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	sessions, err := s.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != active.ID {
		t.Errorf("ActiveSessions = %v, want only %s", sessions, active.ID)
	}
}
