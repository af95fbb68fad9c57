/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/jammy/internal/auth"
	"github.com/friendsincode/jammy/internal/cache"
	"github.com/friendsincode/jammy/internal/catalog"
	"github.com/friendsincode/jammy/internal/config"
	"github.com/friendsincode/jammy/internal/events"
	"github.com/friendsincode/jammy/internal/logbuffer"
	"github.com/friendsincode/jammy/internal/media"
	"github.com/friendsincode/jammy/internal/models"
	"github.com/friendsincode/jammy/internal/playback"
	"github.com/friendsincode/jammy/internal/store"
	"github.com/friendsincode/jammy/internal/ws"
)

// TrackResolver resolves a provider track ID into a Song.
type TrackResolver interface {
	Track(ctx context.Context, trackID string) (*models.Song, error)
}

// API exposes HTTP handlers.
type API struct {
	store     *store.Store
	playback  *playback.Service
	catalog   TrackResolver
	media     media.Storage
	hub       *ws.Hub
	bus       *events.Bus
	cache     *cache.Cache
	logBuffer *logbuffer.Buffer
	jwtSecret []byte

	wsWriteTimeout time.Duration
	logger         zerolog.Logger
}

// New creates the API router wrapper.
func New(st *store.Store, svc *playback.Service, resolver TrackResolver, mediaStore media.Storage, hub *ws.Hub, bus *events.Bus, roomCache *cache.Cache, logBuf *logbuffer.Buffer, cfg *config.Config, logger zerolog.Logger) *API {
	return &API{
		store:          st,
		playback:       svc,
		catalog:        resolver,
		media:          mediaStore,
		hub:            hub,
		bus:            bus,
		cache:          roomCache,
		logBuffer:      logBuf,
		jwtSecret:      []byte(cfg.JWTSigningKey),
		wsWriteTimeout: cfg.WSWriteTimeout,
		logger:         logger,
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Route("/rooms", func(r chi.Router) {
				r.Get("/", a.handleRoomList)
				r.Post("/", a.handleRoomCreate)
				r.Route("/{code}", func(r chi.Router) {
					r.Get("/", a.handleRoomLookup)
					r.Delete("/", a.handleRoomClose)
					r.Post("/join", a.handleRoomJoin)
					r.Post("/leave", a.handleRoomLeave)
					r.Get("/members", a.handleRoomMembers)
					r.Put("/cover", a.handleRoomCover)
					r.Post("/session", a.handleSessionStart)
					r.Delete("/session", a.handleSessionEnd)
					r.Get("/session", a.handleSessionForRoom)
				})
			})

			pr.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/state", a.handleState)
				r.Post("/play", a.handlePlay)
				r.Post("/pause", a.handlePause)
				r.Post("/resume", a.handleResume)
				r.Post("/skip", a.handleSkip)
				r.Get("/queue", a.handleQueueGet)
				r.Post("/queue", a.handleQueueAdd)
				r.Delete("/queue/{entryID}", a.handleQueueRemove)
				r.Get("/recently-played", a.handleRecentlyPlayed)
			})

			pr.Get("/ws/rooms/{code}", a.handleRoomSocket)

			pr.Route("/admin/logs", func(r chi.Router) {
				r.Use(a.requireAdmin())
				r.Get("/", a.handleLogs)
				r.Get("/components", a.handleLogComponents)
				r.Get("/stats", a.handleLogStats)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) requireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if claims.Role != string(models.RoleAdmin) {
				writeError(w, http.StatusForbidden, "admin_required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// claims returns the authenticated claims or writes 401 and returns false.
func (a *API) claims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return claims, true
}

// writeServiceError maps domain errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, playback.ErrNotHost):
		writeError(w, http.StatusForbidden, "host_only")
	case errors.Is(err, playback.ErrNotEntryOwner):
		writeError(w, http.StatusForbidden, "not_entry_owner")
	case errors.Is(err, playback.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state")
	case errors.Is(err, playback.ErrSessionEnded):
		writeError(w, http.StatusConflict, "session_ended")
	case errors.Is(err, playback.ErrActiveSessionExists):
		writeError(w, http.StatusConflict, "session_exists")
	case errors.Is(err, playback.ErrQueueEmpty):
		writeError(w, http.StatusConflict, "queue_empty")
	case errors.Is(err, playback.ErrCurrentEntry):
		writeError(w, http.StatusConflict, "entry_playing")
	case errors.Is(err, catalog.ErrTrackNotFound):
		writeError(w, http.StatusNotFound, "track_not_found")
	case errors.Is(err, catalog.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "catalog_unavailable")
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
