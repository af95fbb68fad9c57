/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store wraps persistence for rooms, sessions, songs, and queues.
package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/jammy/internal/models"
)

// Store provides database access for the playback domain.
type Store struct {
	db *gorm.DB
}

// New creates a store on top of an open gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for migrations and health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// roomCodeAlphabet excludes ambiguous characters (0/O, 1/I/L).
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// NewRoomCode generates a random join code.
func NewRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	for i := range buf {
		buf[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}

// CreateRoom persists a new room, generating its ID and join code.
// Code collisions are retried a few times before giving up.
func (s *Store) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	room.IsActive = true

	for attempt := 0; attempt < 5; attempt++ {
		if room.Code == "" {
			code, err := NewRoomCode()
			if err != nil {
				return err
			}
			room.Code = code
		}

		err := s.db.WithContext(ctx).Create(room).Error
		if err == nil {
			return nil
		}

		var count int64
		s.db.WithContext(ctx).Model(&models.Room{}).Where("code = ?", room.Code).Count(&count)
		if count == 0 {
			return err
		}
		room.Code = ""
	}

	return fmt.Errorf("exhausted room code attempts")
}

// RoomByCode looks up an active room by its join code.
func (s *Store) RoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).Where("code = ? AND is_active = ?", code, true).First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// RoomByID looks up a room regardless of active state.
func (s *Store) RoomByID(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).First(&room, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// RoomsForUser lists active rooms the user has joined, newest first.
func (s *Store) RoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ? AND rooms.is_active = ?", userID, true).
		Order("rooms.created_at DESC").
		Find(&rooms).Error
	return rooms, err
}

// SaveRoom persists room field changes.
func (s *Store) SaveRoom(ctx context.Context, room *models.Room) error {
	return s.db.WithContext(ctx).Save(room).Error
}

// CloseRoom deactivates a room.
func (s *Store) CloseRoom(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("is_active", false).Error
}

// AddMember records room membership. Re-joining is a no-op.
func (s *Store) AddMember(ctx context.Context, member *models.RoomMember) error {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Create(member).Error
	if err != nil {
		var existing models.RoomMember
		lookupErr := s.db.WithContext(ctx).
			Where("room_id = ? AND user_id = ?", member.RoomID, member.UserID).
			First(&existing).Error
		if lookupErr == nil {
			*member = existing
			return nil
		}
		return err
	}
	return nil
}

// RemoveMember drops room membership.
func (s *Store) RemoveMember(ctx context.Context, roomID, userID string) error {
	return s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.RoomMember{}).Error
}

// Members lists room membership in join order.
func (s *Store) Members(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	var members []models.RoomMember
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Find(&members).Error
	return members, err
}

// IsMember reports whether the user has joined the room.
func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

// UserByID fetches an account.
func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SongByID fetches a catalog song.
func (s *Store) SongByID(ctx context.Context, id string) (*models.Song, error) {
	var song models.Song
	err := s.db.WithContext(ctx).First(&song, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// SongBySpotifyID fetches a song by its provider ID.
func (s *Store) SongBySpotifyID(ctx context.Context, spotifyID string) (*models.Song, error) {
	var song models.Song
	err := s.db.WithContext(ctx).Where("spotify_id = ?", spotifyID).First(&song).Error
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// UpsertSong stores catalog metadata, reusing an existing row for the same
// provider ID so queue entries share one song record per track.
func (s *Store) UpsertSong(ctx context.Context, song *models.Song) error {
	if song.SpotifyID != "" {
		existing, err := s.SongBySpotifyID(ctx, song.SpotifyID)
		if err == nil {
			song.ID = existing.ID
			song.CreatedAt = existing.CreatedAt
			return s.db.WithContext(ctx).Save(song).Error
		}
	}
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(song).Error
}

// SongsByIDs fetches songs keyed by ID for snapshot assembly.
func (s *Store) SongsByIDs(ctx context.Context, ids []string) (map[string]models.Song, error) {
	result := make(map[string]models.Song, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var songs []models.Song
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&songs).Error; err != nil {
		return nil, err
	}
	for _, song := range songs {
		result[song.ID] = song
	}
	return result, nil
}
