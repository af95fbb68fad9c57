/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// ExhaustedPolicy controls what happens to a session when its queue runs out.
type ExhaustedPolicy string

const (
	// ExhaustedIdle keeps the session active and waiting for new songs.
	ExhaustedIdle ExhaustedPolicy = "idle"
	// ExhaustedClose deactivates the session when the queue runs out.
	ExhaustedClose ExhaustedPolicy = "close"
)

// Config covers process level configuration read from environment variables,
// optionally overlaid by a YAML file (JAMMY_CONFIG).
type Config struct {
	Environment string `yaml:"environment"`
	HTTPBind    string `yaml:"http_bind"`
	HTTPPort    int    `yaml:"http_port"`
	BaseURL     string `yaml:"base_url"` // Public base URL (e.g., https://jammy.example.com)

	DBBackend DatabaseBackend `yaml:"db_backend"`
	DBDSN     string          `yaml:"db_dsn"`

	JWTSigningKey string `yaml:"jwt_signing_key"`
	MetricsBind   string `yaml:"metrics_bind"`

	// Playback policy
	AutoStartOnAdd       bool            `yaml:"autostart_on_add"`
	QueueExhaustedPolicy ExhaustedPolicy `yaml:"queue_exhausted_policy"`
	RecentlyPlayedLimit  int             `yaml:"recently_played_limit"`

	// Broadcast fan-out
	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`
	WSSendBuffer   int           `yaml:"ws_send_buffer"`

	// Music catalog (Spotify)
	SpotifyClientID     string `yaml:"spotify_client_id"`
	SpotifyClientSecret string `yaml:"spotify_client_secret"`

	// Redis cache for catalog lookups
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Cross-instance event bridge
	NATSEnabled bool   `yaml:"nats_enabled"`
	NATSURL     string `yaml:"nats_url"`
	InstanceID  string `yaml:"instance_id"`

	// Room cover storage
	CoverRoot       string `yaml:"cover_root"` // filesystem backend
	S3AccessKeyID   string `yaml:"s3_access_key_id"`
	S3SecretKey     string `yaml:"s3_secret_access_key"`
	S3Region        string `yaml:"s3_region"`
	S3Bucket        string `yaml:"s3_bucket"`
	S3Endpoint      string `yaml:"s3_endpoint"` // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL string `yaml:"s3_public_base_url"`
	S3UsePathStyle  bool   `yaml:"s3_use_path_style"` // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`
}

// Load reads environment variables, applies defaults, overlays the optional
// YAML config file, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("JAMMY_ENV", "development"),
		HTTPBind:    getEnv("JAMMY_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("JAMMY_HTTP_PORT", 8080),
		BaseURL:     getEnv("JAMMY_BASE_URL", ""),

		DBBackend: DatabaseBackend(getEnv("JAMMY_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:     getEnv("JAMMY_DB_DSN", ""),

		JWTSigningKey: getEnv("JAMMY_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("JAMMY_METRICS_BIND", "127.0.0.1:9000"),

		AutoStartOnAdd:       getEnvBool("JAMMY_AUTOSTART_ON_ADD", true),
		QueueExhaustedPolicy: ExhaustedPolicy(getEnv("JAMMY_QUEUE_EXHAUSTED_POLICY", string(ExhaustedIdle))),
		RecentlyPlayedLimit:  getEnvInt("JAMMY_RECENTLY_PLAYED_LIMIT", 25),

		WSWriteTimeout: time.Duration(getEnvInt("JAMMY_WS_WRITE_TIMEOUT_MS", 5000)) * time.Millisecond,
		WSSendBuffer:   getEnvInt("JAMMY_WS_SEND_BUFFER", 32),

		SpotifyClientID:     getEnv("JAMMY_SPOTIFY_CLIENT_ID", ""),
		SpotifyClientSecret: getEnv("JAMMY_SPOTIFY_CLIENT_SECRET", ""),

		RedisAddr:     getEnv("JAMMY_REDIS_ADDR", ""),
		RedisPassword: getEnv("JAMMY_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("JAMMY_REDIS_DB", 0),

		NATSEnabled: getEnvBool("JAMMY_NATS_ENABLED", false),
		NATSURL:     getEnv("JAMMY_NATS_URL", "nats://localhost:4222"),
		InstanceID:  getEnv("JAMMY_INSTANCE_ID", ""),

		CoverRoot:       getEnv("JAMMY_COVER_ROOT", "./covers"),
		S3AccessKeyID:   getEnv("JAMMY_S3_ACCESS_KEY_ID", os.Getenv("AWS_ACCESS_KEY_ID")),
		S3SecretKey:     getEnv("JAMMY_S3_SECRET_ACCESS_KEY", os.Getenv("AWS_SECRET_ACCESS_KEY")),
		S3Region:        getEnv("JAMMY_S3_REGION", "us-east-1"),
		S3Bucket:        getEnv("JAMMY_S3_BUCKET", ""),
		S3Endpoint:      getEnv("JAMMY_S3_ENDPOINT", ""),
		S3PublicBaseURL: getEnv("JAMMY_S3_PUBLIC_BASE_URL", ""),
		S3UsePathStyle:  getEnvBool("JAMMY_S3_USE_PATH_STYLE", false),

		TracingEnabled:    getEnvBool("JAMMY_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("JAMMY_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("JAMMY_TRACING_SAMPLE_RATE", 1.0),
	}

	if path := os.Getenv("JAMMY_CONFIG"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("JAMMY_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("JAMMY_JWT_SIGNING_KEY must be provided")
	}

	if cfg.QueueExhaustedPolicy != ExhaustedIdle && cfg.QueueExhaustedPolicy != ExhaustedClose {
		return nil, fmt.Errorf("unsupported queue exhausted policy %q", cfg.QueueExhaustedPolicy)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if len(cfg.JWTSigningKey) < 16 {
			return nil, fmt.Errorf("JAMMY_JWT_SIGNING_KEY must be at least 16 bytes in production")
		}
	}

	return cfg, nil
}

// overlayFile merges non-zero values from a YAML file over the env-derived config.
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
