/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/jammy/internal/api"
	"github.com/friendsincode/jammy/internal/cache"
	"github.com/friendsincode/jammy/internal/catalog"
	"github.com/friendsincode/jammy/internal/config"
	"github.com/friendsincode/jammy/internal/db"
	"github.com/friendsincode/jammy/internal/eventbus"
	"github.com/friendsincode/jammy/internal/events"
	"github.com/friendsincode/jammy/internal/logbuffer"
	"github.com/friendsincode/jammy/internal/media"
	"github.com/friendsincode/jammy/internal/playback"
	"github.com/friendsincode/jammy/internal/store"
	"github.com/friendsincode/jammy/internal/telemetry"
	"github.com/friendsincode/jammy/internal/version"
	"github.com/friendsincode/jammy/internal/ws"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	store     *store.Store
	bus       *events.Bus
	cache     *cache.Cache
	catalog   *catalog.Client
	media     media.Storage
	playback  *playback.Service
	hub       *ws.Hub
	bridge    *eventbus.Bridge
	api       *api.API
	logBuffer *logbuffer.Buffer
	versions  *version.Checker

	bgCancel context.CancelFunc
}

// New wires the full service graph. Recovery of interrupted sessions runs
// before the server is returned, so by the time the listener accepts
// traffic every surviving session has a live advance timer again.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("jammy-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Websocket connections outlive any sane request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	if err := srv.playback.Recover(context.Background()); err != nil {
		return nil, fmt.Errorf("recover sessions: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Write deadline stays off so websocket connections are not cut;
		// the middleware timeout covers plain requests.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	s.store = store.New(database)

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	songCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	s.cache = songCache
	s.DeferClose(songCache.Close)

	s.catalog = catalog.New(s.cfg.SpotifyClientID, s.cfg.SpotifyClientSecret, songCache, s.logger)

	mediaStore, err := media.NewFromConfig(context.Background(), s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("init media storage: %w", err)
	}
	s.media = mediaStore

	s.playback = playback.New(s.store, s.bus, s.cfg, s.logger)
	s.DeferClose(func() error {
		s.playback.Stop()
		return nil
	})

	s.hub = ws.NewHub(s.bus, s.cfg.WSSendBuffer, s.logger)

	if s.cfg.NATSEnabled {
		bridge, err := eventbus.New(s.cfg.NATSURL, s.cfg.InstanceID, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		s.bridge = bridge
		s.DeferClose(bridge.Close)
	}

	s.api = api.New(s.store, s.playback, s.catalog, s.media, s.hub, s.bus, s.cache, s.logBuffer, s.cfg, s.logger)

	s.versions = version.NewChecker(s.logger)

	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if fs, ok := s.media.(*media.FilesystemStorage); ok {
		s.router.Mount("/media", fs.Handler())
	}

	s.api.Routes(s.router)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	go s.hub.Run(ctx)
	s.versions.Start(ctx)

	// Scrape endpoint on its own listener so it is never exposed through
	// the public bind.
	if s.cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		metricsServer := &http.Server{Addr: s.cfg.MetricsBind, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}
		s.DeferClose(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Str("addr", s.cfg.MetricsBind).Msg("metrics server error")
			}
		}()
	}

	if s.bridge != nil {
		if err := s.bridge.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("event bridge start failed")
		}
	}
}

// HTTPServer returns the configured but unstarted HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the HTTP handler, mostly for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgCancel = nil
	}
	s.versions.Stop()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
