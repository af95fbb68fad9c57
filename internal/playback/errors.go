/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "errors"

var (
	// ErrNotHost is returned when a non-host user attempts a host-only
	// transition.
	ErrNotHost = errors.New("only the room host may control playback")

	// ErrNotEntryOwner is returned when a user tries to remove a queue
	// entry added by someone else.
	ErrNotEntryOwner = errors.New("queue entry belongs to another user")

	// ErrInvalidState is returned for transitions that are not legal from
	// the session's current state, e.g. Pause while not playing.
	ErrInvalidState = errors.New("invalid playback state for this action")

	// ErrSessionEnded is returned for operations on a deactivated session.
	ErrSessionEnded = errors.New("session has ended")

	// ErrActiveSessionExists guards the one-active-session-per-room rule.
	ErrActiveSessionExists = errors.New("room already has an active session")

	// ErrQueueEmpty is returned when Play is requested with nothing queued.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrCurrentEntry is returned when removing the entry that is
	// currently playing.
	ErrCurrentEntry = errors.New("cannot remove the currently playing entry")
)
