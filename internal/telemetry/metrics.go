/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint, and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jammy_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jammy_api_request_duration_seconds",
		Help:    "HTTP API request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jammy_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	// WebSocketConnections gauges registered room websocket connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jammy_websocket_connections",
		Help: "Registered room websocket connections.",
	})

	// ActiveSessions gauges playback sessions currently active.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jammy_active_sessions",
		Help: "Active playback sessions.",
	})

	// PlaybackTransitions counts state machine transitions by kind.
	PlaybackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jammy_playback_transitions_total",
		Help: "Playback state machine transitions.",
	}, []string{"transition"})

	// AdvanceTimerFires counts scheduler fires by outcome.
	AdvanceTimerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jammy_advance_timer_fires_total",
		Help: "Auto-advance timer fires by outcome (applied or stale).",
	}, []string{"outcome"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
