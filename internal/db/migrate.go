/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/jammy/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.RoomMember{},
		&models.Song{},
		&models.Session{},
		&models.QueueEntry{},
	); err != nil {
		return err
	}

	if err := applyPostgresQueuePositionGuard(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresQueuePositionGuard enforces unique queue positions per session
// at the database level. SQLite and MySQL deployments rely on the store's
// transactional inserts instead.
func applyPostgresQueuePositionGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE UNIQUE INDEX IF NOT EXISTS uq_queue_entries_session_position
ON queue_entries (session_id, position)
WHERE played = false;
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres queue position guard: %w", err)
	}

	return nil
}
