/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FilesystemStorage implements Storage using local filesystem.
type FilesystemStorage struct {
	rootDir string
	baseURL string
	logger  zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage backend. Stored
// keys are served from baseURL/media/.
func NewFilesystemStorage(rootDir, baseURL string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		rootDir: rootDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With().Str("component", "cover-storage").Logger(),
	}
}

// Store saves a cover image to the local filesystem.
func (fs *FilesystemStorage) Store(ctx context.Context, roomID, contentType string, file io.Reader) (string, error) {
	key := coverKey(roomID, contentType)
	fullPath := filepath.Join(fs.rootDir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create directories: %w", err)
	}

	dest, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, file); err != nil {
		os.Remove(fullPath) // Clean up on failure
		return "", fmt.Errorf("write file: %w", err)
	}

	fs.logger.Debug().
		Str("path", fullPath).
		Str("room_id", roomID).
		Msg("cover stored")

	return key, nil
}

// Delete removes a cover from the filesystem.
func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	fullPath := filepath.Join(fs.rootDir, filepath.FromSlash(key))
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// URL returns the public URL for a stored key.
func (fs *FilesystemStorage) URL(key string) string {
	return fs.baseURL + "/media/" + key
}

// Handler serves stored files. Mount it at /media.
func (fs *FilesystemStorage) Handler() http.Handler {
	return http.FileServer(http.Dir(fs.rootDir))
}
