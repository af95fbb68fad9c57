/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/jammy/internal/models"
)

// AppendEntry inserts a queue entry at the next free position. The position
// read and the insert run in one transaction so concurrent adds cannot
// collide.
func (s *Store) AppendEntry(ctx context.Context, entry *models.QueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos *int
		err := tx.Model(&models.QueueEntry{}).
			Where("session_id = ?", entry.SessionID).
			Select("MAX(position)").
			Scan(&maxPos).Error
		if err != nil {
			return err
		}

		entry.Position = 0
		if maxPos != nil {
			entry.Position = *maxPos + 1
		}

		return tx.Create(entry).Error
	})
}

// EntryByID fetches a queue entry.
func (s *Store) EntryByID(ctx context.Context, id string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// PendingEntries lists unplayed entries in position order. The currently
// playing entry stays unplayed until it finishes, so it appears at the head.
func (s *Store) PendingEntries(ctx context.Context, sessionID string) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND played = ?", sessionID, false).
		Order("position ASC").
		Find(&entries).Error
	return entries, err
}

// HeadEntry returns the first unplayed entry, or gorm.ErrRecordNotFound
// when the queue is exhausted.
func (s *Store) HeadEntry(ctx context.Context, sessionID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND played = ?", sessionID, false).
		Order("position ASC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkPlayed flags an entry as finished.
func (s *Store) MarkPlayed(ctx context.Context, entryID string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&models.QueueEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]any{
			"played":    true,
			"played_at": now,
		}).Error
}

// RemoveEntry deletes an unplayed entry and closes the position gap so
// pending positions stay dense.
func (s *Store) RemoveEntry(ctx context.Context, entryID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.QueueEntry
		if err := tx.First(&entry, "id = ?", entryID).Error; err != nil {
			return err
		}

		if err := tx.Delete(&models.QueueEntry{}, "id = ?", entryID).Error; err != nil {
			return err
		}

		return tx.Model(&models.QueueEntry{}).
			Where("session_id = ? AND position > ?", entry.SessionID, entry.Position).
			UpdateColumn("position", gorm.Expr("position - 1")).Error
	})
}

// RecentlyPlayed lists finished entries, newest first.
func (s *Store) RecentlyPlayed(ctx context.Context, sessionID string, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 25
	}
	var entries []models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND played = ?", sessionID, true).
		Order("played_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
