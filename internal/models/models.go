package models

import (
	"time"
)

// RoleName enumerates the account roles.
type RoleName string

const (
	RoleAdmin RoleName = "admin"
	RoleUser  RoleName = "user"
)

// User represents an authenticated account.
type User struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Email       string `gorm:"uniqueIndex"`
	Password    string
	DisplayName string
	Role        RoleName `gorm:"type:varchar(16)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Room is a shared listening space controlled by its host.
type Room struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Code      string `gorm:"type:varchar(8);uniqueIndex"`
	Name      string
	HostID    string `gorm:"type:uuid;index"`
	CoverURL  string
	IsActive  bool `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomMember links a user to a room they have joined.
type RoomMember struct {
	RoomID      string `gorm:"type:uuid;primaryKey"`
	UserID      string `gorm:"type:uuid;primaryKey"`
	DisplayName string
	JoinedAt    time.Time
}

// Song is a catalog track resolved from the music provider.
type Song struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	SpotifyID   string `gorm:"type:varchar(64);index"`
	Title       string
	Artist      string
	Album       string
	AlbumArtURL string
	DurationMS  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlaybackState is the derived state of a session.
type PlaybackState string

const (
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
	StateIdle    PlaybackState = "idle"
	StateEnded   PlaybackState = "ended"
)

// Session is the persisted playback state for one room.
//
// StartedAt is the playback anchor: non-nil means the current song is
// playing and the listener position is wall-clock time minus the anchor.
// A nil anchor with a current entry means paused at PausedOffsetMS.
type Session struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	RoomID         string  `gorm:"type:uuid;index"`
	CurrentEntryID *string `gorm:"type:uuid"`
	CurrentSongID  *string `gorm:"type:uuid"`
	StartedAt      *time.Time
	PausedOffsetMS int64
	Exhausted      bool
	Revision       int64
	IsActive       bool `gorm:"index"`
	EndedAt        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// State derives the playback state from the persisted fields.
func (s *Session) State() PlaybackState {
	switch {
	case !s.IsActive:
		return StateEnded
	case s.CurrentEntryID == nil:
		return StateIdle
	case s.StartedAt != nil:
		return StatePlaying
	default:
		return StatePaused
	}
}

// PositionAt computes the listener position in milliseconds at the given
// instant, clamped to [0, durationMS]. Paused sessions report the stored
// offset regardless of wall-clock time.
func (s *Session) PositionAt(now time.Time, durationMS int64) int64 {
	switch s.State() {
	case StatePlaying:
		elapsed := now.Sub(*s.StartedAt).Milliseconds()
		if elapsed < 0 {
			return 0
		}
		if durationMS > 0 && elapsed > durationMS {
			return durationMS
		}
		return elapsed
	case StatePaused:
		if durationMS > 0 && s.PausedOffsetMS > durationMS {
			return durationMS
		}
		return s.PausedOffsetMS
	default:
		return 0
	}
}

// QueueEntry is one song occurrence in a session's queue. The same song may
// appear multiple times as distinct entries.
type QueueEntry struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	SessionID string `gorm:"type:uuid;index:idx_queue_session_position,priority:1"`
	SongID    string `gorm:"type:uuid;index"`
	Position  int    `gorm:"index:idx_queue_session_position,priority:2"`
	Played    bool   `gorm:"index"`
	PlayedAt  *time.Time
	AddedByID string `gorm:"type:uuid"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
