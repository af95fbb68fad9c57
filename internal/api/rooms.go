/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/friendsincode/jammy/internal/events"
	"github.com/friendsincode/jammy/internal/models"
)

type roomCreateRequest struct {
	Name string `json:"name"`
}

type roomResponse struct {
	ID        string           `json:"id"`
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	HostID    string           `json:"host_id"`
	CoverURL  string           `json:"cover_url,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Members   []memberResponse `json:"members,omitempty"`
}

type memberResponse struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

func roomView(room *models.Room) roomResponse {
	return roomResponse{
		ID:        room.ID,
		Code:      room.Code,
		Name:      room.Name,
		HostID:    room.HostID,
		CoverURL:  room.CoverURL,
		CreatedAt: room.CreatedAt,
	}
}

func (a *API) handleRoomCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.claims(w, r)
	if !ok {
		return
	}

	var req roomCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	room := &models.Room{
		ID:       uuid.NewString(),
		Name:     req.Name,
		HostID:   claims.UserID,
		IsActive: true,
	}
	if err := a.store.CreateRoom(r.Context(), room); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	// The host is a member of their own room.
	member := &models.RoomMember{
		RoomID:      room.ID,
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		JoinedAt:    time.Now(),
	}
	if err := a.store.AddMember(r.Context(), member); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	a.logger.Info().
		Str("room_id", room.ID).
		Str("code", room.Code).
		Str("host_id", claims.UserID).
		Msg("room created")

	writeJSON(w, http.StatusCreated, roomView(room))
}

// resolveRoomCode resolves a join code, consulting the cache first. The
// cached mapping is code to id only; the row itself is always reloaded so a
// just-closed room cannot be joined from a stale cache hit.
func (a *API) resolveRoomCode(ctx context.Context, code string) (*models.Room, error) {
	if roomID, ok := a.cache.GetRoomID(ctx, code); ok {
		room, err := a.store.RoomByID(ctx, roomID)
		if err == nil && room.IsActive {
			return room, nil
		}
	}
	room, err := a.store.RoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	a.cache.SetRoomID(ctx, code, room.ID)
	return room, nil
}

func (a *API) handleRoomList(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.claims(w, r)
	if !ok {
		return
	}

	rooms, err := a.store.RoomsForUser(r.Context(), claims.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	out := make([]roomResponse, 0, len(rooms))
	for i := range rooms {
		out = append(out, roomView(&rooms[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRoomLookup(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	room, err := a.resolveRoomCode(r.Context(), code)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	members, err := a.store.Members(r.Context(), room.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	memberViews := make([]memberResponse, 0, len(members))
	for _, m := range members {
		memberViews = append(memberViews, memberResponse{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			JoinedAt:    m.JoinedAt,
		})
	}

	view := roomView(room)
	view.Members = memberViews
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRoomJoin(w http.ResponseWriter, r *http.Request) {
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

	member := &models.RoomMember{
		RoomID:      room.ID,
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		JoinedAt:    time.Now(),
	}
	if err := a.store.AddMember(r.Context(), member); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, roomView(room))
}

func (a *API) handleRoomLeave(w http.ResponseWriter, r *http.Request) {
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
	if room.HostID == claims.UserID {
		// Hosts close their room instead of leaving it headless.
		writeError(w, http.StatusConflict, "host_cannot_leave")
		return
	}

	if err := a.store.RemoveMember(r.Context(), room.ID, claims.UserID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoomClose(w http.ResponseWriter, r *http.Request) {
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

	// End any active session first so timers are cancelled.
	if err := a.playback.EndSessionForRoom(r.Context(), room.ID, claims.UserID); err != nil && !isNotFound(err) {
		a.writeServiceError(w, r, err)
		return
	}

	if err := a.store.CloseRoom(r.Context(), room.ID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.cache.InvalidateRoomCode(r.Context(), room.Code)

	a.bus.Publish(events.EventRoomClosed, events.Payload{"room_id": room.ID})
	a.logger.Info().Str("room_id", room.ID).Msg("room closed")

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.claims(w, r); !ok {
		return
	}

	code := strings.ToUpper(chi.URLParam(r, "code"))
	room, err := a.resolveRoomCode(r.Context(), code)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	members, err := a.store.Members(r.Context(), room.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			JoinedAt:    m.JoinedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRoomCover(w http.ResponseWriter, r *http.Request) {
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

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "image_required")
		return
	}

	key, err := a.media.Store(r.Context(), room.ID, contentType, file)
	if err != nil {
		a.logger.Error().Err(err).Str("room_id", room.ID).Msg("cover upload failed")
		writeError(w, http.StatusInternalServerError, "media_store_failed")
		return
	}

	room.CoverURL = a.media.URL(key)
	if err := a.store.SaveRoom(r.Context(), room); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"cover_url": room.CoverURL})
}
