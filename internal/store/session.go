/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/jammy/internal/models"
)

// CreateSession opens a playback session for a room.
func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.IsActive = true
	return s.db.WithContext(ctx).Create(session).Error
}

// SessionByID fetches a session.
func (s *Store) SessionByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ActiveSessionForRoom returns the room's active session, if any.
func (s *Store) ActiveSessionForRoom(ctx context.Context, roomID string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND is_active = ?", roomID, true).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ActiveSessions lists every active session. Used at startup to resume
// auto-advance scheduling after a restart.
func (s *Store) ActiveSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&sessions).Error
	return sessions, err
}

// SaveSession persists session state changes.
func (s *Store) SaveSession(ctx context.Context, session *models.Session) error {
	return s.db.WithContext(ctx).Save(session).Error
}

// EndSession deactivates a session and stamps its end time.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"is_active": false,
			"ended_at":  now,
		}).Error
}
