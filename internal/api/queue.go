/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type queueAddRequest struct {
	SpotifyTrackID string `json:"spotify_track_id"`
}

func (a *API) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.claims(w, r)
	if !ok {
		return
	}

	var req queueAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.SpotifyTrackID = strings.TrimSpace(req.SpotifyTrackID)
	if req.SpotifyTrackID == "" {
		writeError(w, http.StatusBadRequest, "track_id_required")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	session, err := a.store.SessionByID(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	member, err := a.store.IsMember(r.Context(), session.RoomID, claims.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "not_a_member")
		return
	}

	song, err := a.catalog.Track(r.Context(), req.SpotifyTrackID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	entry, err := a.playback.AddToQueue(r.Context(), sessionID, claims.UserID, song)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	a.logger.Info().
		Str("session_id", sessionID).
		Str("entry_id", entry.ID).
		Str("song", song.Title).
		Str("added_by", claims.UserID).
		Msg("song queued")

	snapshot, err := a.playback.Snapshot(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (a *API) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.claims(w, r); !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	snapshot, err := a.playback.Snapshot(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.Queue)
}

func (a *API) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.claims(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	entryID := chi.URLParam(r, "entryID")
	if err := a.playback.RemoveFromQueue(r.Context(), sessionID, entryID, claims.UserID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRecentlyPlayed(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.claims(w, r); !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	entries, err := a.playback.RecentlyPlayed(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
