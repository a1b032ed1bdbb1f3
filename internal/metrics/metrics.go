// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package metrics holds the Prometheus collectors of jellysync. Collectors
// register with the default registry at init and are served on /metrics by
// the status API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Socket Metrics
	SocketFramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jellysync_socket_frames_received_total",
			Help: "Total number of frames received on the server socket",
		},
	)

	SocketFramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jellysync_socket_frames_sent_total",
			Help: "Total number of frames sent on the server socket",
		},
		[]string{"message_type"},
	)

	SocketDecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jellysync_socket_decode_failures_total",
			Help: "Total number of received frames that did not decode to an envelope",
		},
	)

	SocketReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jellysync_socket_reconnect_attempts_total",
			Help: "Total number of reconnect attempts after a failed or dropped connection",
		},
	)

	SocketState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jellysync_socket_state",
			Help: "Socket state (0=idle, 1=connecting, 2=open, 3=closed, 4=reconnecting)",
		},
	)

	// Dispatch Bus Metrics
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jellysync_bus_published_total",
			Help: "Total number of envelopes published on the dispatch bus",
		},
		[]string{"message_type"},
	)

	BusDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jellysync_bus_delivered_total",
			Help: "Total number of envelopes handled per subscriber",
		},
		[]string{"subscriber"},
	)

	BusHandlerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jellysync_bus_handler_panics_total",
			Help: "Total number of recovered subscriber panics",
		},
		[]string{"subscriber"},
	)

	// Task Registry Metrics
	TasksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jellysync_tasks_started_total",
			Help: "Total number of tasks added to the registry",
		},
		[]string{"type"},
	)

	TasksFinished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jellysync_tasks_finished_total",
			Help: "Total number of tasks marked finished",
		},
	)

	TasksEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jellysync_tasks_evicted_total",
			Help: "Total number of finished tasks removed from the registry",
		},
	)

	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jellysync_tasks_active",
			Help: "Current number of tasks in the registry",
		},
	)

	// Item Cache Metrics
	ItemsCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jellysync_items_cached",
			Help: "Current number of items in the item cache",
		},
	)

	ItemRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jellysync_item_refreshes_total",
			Help: "Total number of item refreshes triggered by server notifications",
		},
		[]string{"trigger"}, // library_changed, user_data_changed
	)

	ItemRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jellysync_item_refresh_failures_total",
			Help: "Total number of item refreshes whose fetch failed",
		},
	)

	// Jellyfin REST Metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jellysync_api_request_duration_seconds",
			Help:    "Duration of Jellyfin REST requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Status API Metrics
	StatusRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jellysync_status_request_duration_seconds",
			Help:    "Duration of status API requests by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	StatusActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jellysync_status_active_requests",
			Help: "Number of status API requests being served",
		},
	)
)

// RecordAPIRequest records one Jellyfin REST request.
func RecordAPIRequest(endpoint, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// RecordStatusRequest records one status API request.
func RecordStatusRequest(method, route, status string, duration time.Duration) {
	StatusRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// RecordFrameSent counts one outbound socket frame.
func RecordFrameSent(messageType string) {
	SocketFramesSent.WithLabelValues(messageType).Inc()
}

// RecordItemRefresh counts one notification-driven refresh and its outcome.
func RecordItemRefresh(trigger string, err error) {
	ItemRefreshes.WithLabelValues(trigger).Inc()
	if err != nil {
		ItemRefreshFailures.Inc()
	}
}
