/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds the build version and a background check for newer
// releases.
package version

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is set at build time:
//
//	-X github.com/friendsincode/jammy/internal/version.Version=X.Y.Z
var Version = "0.9.3"

const defaultEndpoint = "https://api.github.com/repos/friendsincode/jammy/releases/latest"

// Release is the newest published release, when one newer than the running
// build is known.
type Release struct {
	Version string
	URL     string
}

// Checker polls the release feed and remembers the newest version seen.
type Checker struct {
	logger   zerolog.Logger
	endpoint string
	period   time.Duration
	client   *http.Client
	cancel   context.CancelFunc

	mu     sync.RWMutex
	latest *Release
}

// NewChecker creates the release checker. It stays idle until Start.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger:   logger.With().Str("component", "version").Logger(),
		endpoint: defaultEndpoint,
		period:   6 * time.Hour,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Start checks once, then keeps polling until the context ends.
func (c *Checker) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.check(ctx)

	go func() {
		ticker := time.NewTicker(c.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check(ctx)
			}
		}
	}()
}

// Stop ends polling.
func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Update returns the newer release, or nil when the running build is
// current (or no check has succeeded yet).
func (c *Checker) Update() *Release {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

func (c *Checker) check(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("build release request")
		return
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Jammy/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("fetch latest release")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode).Msg("release feed status")
		return
	}

	var body struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Debug().Err(err).Msg("decode release")
		return
	}

	published := strings.TrimPrefix(body.TagName, "v")
	if !newer(published, Version) {
		return
	}

	c.mu.Lock()
	c.latest = &Release{Version: published, URL: body.HTMLURL}
	c.mu.Unlock()

	c.logger.Info().
		Str("current", Version).
		Str("latest", published).
		Str("url", body.HTMLURL).
		Msg("new version available")
}

// newer reports whether a is a higher dotted version than b.
func newer(a, b string) bool {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < 3; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av > bv
		}
	}
	return false
}
