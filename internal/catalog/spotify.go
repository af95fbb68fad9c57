/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog resolves track metadata from the Spotify Web API using the
// client-credentials flow. Lookups are memoized in Redis so repeated adds of
// the same track never leave the process.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/jammy/internal/cache"
	"github.com/friendsincode/jammy/internal/models"
)

// ErrUnavailable is returned when the catalog cannot be reached or rejects
// the request. Handlers map it to a bad gateway response.
var ErrUnavailable = errors.New("music catalog unavailable")

// ErrTrackNotFound is returned for an unknown track ID.
var ErrTrackNotFound = errors.New("track not found in catalog")

const (
	defaultAPIBase   = "https://api.spotify.com/v1"
	defaultTokenURL  = "https://accounts.spotify.com/api/token"
	tokenExpirySlack = 30 * time.Second
)

// Client is a Spotify Web API client.
type Client struct {
	clientID     string
	clientSecret string
	apiBase      string
	tokenURL     string
	httpClient   *http.Client
	cache        *cache.Cache
	logger       zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New creates a catalog client. The cache may be nil.
func New(clientID, clientSecret string, songCache *cache.Cache, logger zerolog.Logger) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		apiBase:      defaultAPIBase,
		tokenURL:     defaultTokenURL,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache:  songCache,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// Track fetches metadata for one Spotify track ID.
func (c *Client) Track(ctx context.Context, trackID string) (*models.Song, error) {
	if c.cache != nil {
		if song, ok := c.cache.GetSong(ctx, trackID); ok {
			return song, nil
		}
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/tracks/"+url.PathEscape(trackID), nil)
	if err != nil {
		return nil, fmt.Errorf("build track request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("track_id", trackID).Msg("track lookup failed")
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrTrackNotFound
	case http.StatusUnauthorized:
		// Token may have been revoked; drop it so the next call refreshes.
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return nil, ErrUnavailable
	default:
		c.logger.Warn().Int("status", resp.StatusCode).Str("track_id", trackID).Msg("unexpected catalog status")
		return nil, ErrUnavailable
	}

	var tr trackResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, ErrUnavailable
	}

	song := tr.toSong()
	if c.cache != nil {
		c.cache.SetSong(ctx, song)
	}
	return song, nil
}

// token returns a valid access token, refreshing via client credentials
// when the cached one is near expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySlack)) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("token request failed")
		return "", ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("token request rejected")
		return "", ErrUnavailable
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", ErrUnavailable
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

type trackResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name   string `json:"name"`
		Images []struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"images"`
	} `json:"album"`
}

func (tr trackResponse) toSong() *models.Song {
	artists := make([]string, 0, len(tr.Artists))
	for _, a := range tr.Artists {
		artists = append(artists, a.Name)
	}

	art := ""
	if len(tr.Album.Images) > 0 {
		art = tr.Album.Images[0].URL
	}

	return &models.Song{
		SpotifyID:   tr.ID,
		Title:       tr.Name,
		Artist:      strings.Join(artists, ", "),
		Album:       tr.Album.Name,
		AlbumArtURL: art,
		DurationMS:  tr.DurationMS,
	}
}
