/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media stores room cover images on the local filesystem or in
// S3-compatible object storage.
package media

import (
	"context"
	"io"
	"mime"
	"path"

	"github.com/rs/zerolog"

	appconfig "github.com/friendsincode/jammy/internal/config"
)

// Storage persists cover images and yields public URLs for them.
type Storage interface {
	// Store writes the image and returns its storage key.
	Store(ctx context.Context, roomID, contentType string, file io.Reader) (string, error)
	// Delete removes a stored image. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// URL returns the public URL for a stored key.
	URL(key string) string
}

// NewFromConfig selects the S3 backend when a bucket is configured,
// otherwise the local filesystem.
func NewFromConfig(ctx context.Context, cfg *appconfig.Config, logger zerolog.Logger) (Storage, error) {
	if cfg.S3Bucket != "" {
		return NewS3Storage(ctx, cfg, logger)
	}
	return NewFilesystemStorage(cfg.CoverRoot, cfg.BaseURL, logger), nil
}

// coverKey builds the object key for a room cover. One cover per room; a
// re-upload overwrites the previous one.
func coverKey(roomID, contentType string) string {
	ext := ".jpg"
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return path.Join("covers", roomID+ext)
}
