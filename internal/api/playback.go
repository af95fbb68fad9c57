/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/friendsincode/jammy/internal/telemetry"
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func (a *API) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.claims(w, r)
	if !ok {
		return
	}

	code := strings.ToUpper(chi.URLParam(r, "code"))
	room, err := a.resolveRoomCode(r.Context(), code)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if room.HostID != claims.UserID {
		writeError(w, http.StatusForbidden, "host_only")
		return
	}

	session, err := a.playback.StartSession(r.Context(), room.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	snapshot, err := a.playback.Snapshot(r.Context(), session.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (a *API) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.claims(w, r)
	if !ok {
		return
	}

	code := strings.ToUpper(chi.URLParam(r, "code"))
	room, err := a.resolveRoomCode(r.Context(), code)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if err := a.playback.EndSessionForRoom(r.Context(), room.ID, claims.UserID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessionForRoom(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.claims(w, r); !ok {
		return
	}

	code := strings.ToUpper(chi.URLParam(r, "code"))
	room, err := a.resolveRoomCode(r.Context(), code)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	session, err := a.store.ActiveSessionForRoom(r.Context(), room.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	snapshot, err := a.playback.Snapshot(r.Context(), session.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.claims(w, r); !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	snapshot, err := a.playback.Snapshot(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, "play", a.playback.Play)
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, "pause", a.playback.Pause)
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, "resume", a.playback.Resume)
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, "skip", a.playback.Skip)
}

// transition runs a host-controlled playback transition and responds with
// the resulting snapshot.
func (a *API) transition(w http.ResponseWriter, r *http.Request, name string, fn func(ctx context.Context, sessionID, userID string) error) {
	claims, ok := a.claims(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := fn(r.Context(), sessionID, claims.UserID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	telemetry.PlaybackTransitions.WithLabelValues(name).Inc()

	snapshot, err := a.playback.Snapshot(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
