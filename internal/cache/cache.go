/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for catalog lookups
// and room snapshots, with graceful fallback when Redis is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/jammy/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultSongTTL     = 24 * time.Hour
	DefaultRoomCodeTTL = 10 * time.Minute
	DefaultSearchTTL   = 15 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeySong     = "jammy:cache:song:"      // + spotify track id
	KeyRoomCode = "jammy:cache:room_code:" // + join code
	KeySearch   = "jammy:cache:search:"    // + query hash
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	SongTTL     time.Duration
	RoomCodeTTL time.Duration
	SearchTTL   time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		SongTTL:        DefaultSongTTL,
		RoomCodeTTL:    DefaultRoomCodeTTL,
		SearchTTL:      DefaultSearchTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. A missing or unreachable Redis does not
// fail startup; the cache runs disabled and every lookup is a miss.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.RedisAddr == "" {
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// Song caching

// GetSong looks up catalog metadata by provider track ID.
func (c *Cache) GetSong(ctx context.Context, spotifyID string) (*models.Song, bool) {
	var song models.Song
	found, err := c.get(ctx, KeySong+spotifyID, &song)
	if err != nil || !found {
		return nil, false
	}
	return &song, true
}

// SetSong stores catalog metadata.
func (c *Cache) SetSong(ctx context.Context, song *models.Song) {
	if song == nil || song.SpotifyID == "" {
		return
	}
	ttl := c.config.SongTTL
	if ttl == 0 {
		ttl = DefaultSongTTL
	}
	_ = c.set(ctx, KeySong+song.SpotifyID, song, ttl)
}

// Room code caching

// GetRoomID resolves a join code to a room ID.
func (c *Cache) GetRoomID(ctx context.Context, code string) (string, bool) {
	var roomID string
	found, err := c.get(ctx, KeyRoomCode+code, &roomID)
	if err != nil || !found {
		return "", false
	}
	return roomID, true
}

// SetRoomID caches the code-to-room mapping.
func (c *Cache) SetRoomID(ctx context.Context, code, roomID string) {
	ttl := c.config.RoomCodeTTL
	if ttl == 0 {
		ttl = DefaultRoomCodeTTL
	}
	_ = c.set(ctx, KeyRoomCode+code, roomID, ttl)
}

// InvalidateRoomCode drops the code mapping, e.g. when a room closes.
func (c *Cache) InvalidateRoomCode(ctx context.Context, code string) {
	_ = c.delete(ctx, KeyRoomCode+code)
}
