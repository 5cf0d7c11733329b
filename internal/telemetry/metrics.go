/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autodj"

var (
	// TracksStarted counts tracks that reached the playing state.
	TracksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracks_started_total",
		Help:      "Tracks that started playing, by channel and source category.",
	}, []string{"channel", "source"})

	// PlaybackErrors counts device failures by classification.
	PlaybackErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "playback_errors_total",
		Help:      "Playback device errors, by channel and error class.",
	}, []string{"channel", "class"})

	// BreakerState reports the circuit breaker state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Playback circuit breaker state per channel.",
	}, []string{"channel"})

	// IntervalInterruptions counts interval playlists that took over rotation.
	IntervalInterruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interval_interruptions_total",
		Help:      "Interval interruptions entered, by channel.",
	}, []string{"channel"})

	// PendingIntervals is the depth of the pending interval queue.
	PendingIntervals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interval_pending",
		Help:      "Interval playlists waiting to interrupt rotation.",
	}, []string{"channel"})

	// PreloadAttempts counts preload requests by outcome.
	PreloadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "preload_attempts_total",
		Help:      "Preload attempts, by channel and result.",
	}, []string{"channel", "result"})

	// Resyncs counts catalog reconciliations by trigger.
	Resyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_resyncs_total",
		Help:      "Catalog reconciliations, by channel, trigger and result.",
	}, []string{"channel", "trigger", "result"})

	// ActiveChannels is 1 while an orchestrator is running for the channel.
	ActiveChannels = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channel_active",
		Help:      "Whether an orchestrator is running for the channel.",
	}, []string{"channel"})

	// CatalogQueryDuration observes database latency by operation and table.
	CatalogQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "db_query_duration_seconds",
		Help:      "Database operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// CatalogQueryErrors counts failed database operations.
	CatalogQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "db_query_errors_total",
		Help:      "Database operation failures.",
	}, []string{"operation", "table"})

	// APIRequestDuration observes control API latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Control API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts control API requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Control API requests.",
	}, []string{"method", "endpoint", "status"})

	// LeaseHeld is 1 while this instance owns a channel lease.
	LeaseHeld = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lease_held",
		Help:      "Whether this instance holds the channel lease.",
	}, []string{"channel"})

	// LeaseChanges counts lease acquisitions, losses and releases.
	LeaseChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lease_changes_total",
		Help:      "Channel lease transitions.",
	}, []string{"channel", "change"})

	// APIActiveConnections tracks in-flight control API requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight control API requests.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
