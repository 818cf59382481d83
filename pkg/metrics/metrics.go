// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks local API request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total local API requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// DirectoryRequestDuration tracks upstream REST call duration.
	DirectoryRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "directory_request_duration_seconds",
			Help:    "Directory REST call duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)

	// EventsApplied tracks realtime events folded into the store, by type.
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_applied_total",
			Help: "Realtime events applied by the reducer",
		},
		[]string{"type"},
	)

	// DuplicateEventsDropped tracks redelivered message ids discarded as no-ops.
	DuplicateEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_duplicate_events_dropped_total",
			Help: "Redelivered message events discarded by id dedupe",
		},
	)

	// WebsocketReconnects tracks transparent channel re-dials.
	WebsocketReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Websocket reconnect attempts",
		},
	)

	// ConnectionUp reflects the realtime channel state (1 connected, 0 not).
	ConnectionUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connection_up",
			Help: "Whether the realtime channel is connected",
		},
	)

	// SendAckLatency tracks time between send_message and its acknowledgement.
	SendAckLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "send_ack_latency_seconds",
			Help:    "Latency between an outbound send and its message_sent echo",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// UnreadTotal tracks the summed unread count across all conversations.
	UnreadTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversations_unread_total",
			Help: "Total unread messages across conversations",
		},
	)
)

// RecordRequest records metrics for a local API request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordDirectoryRequest records metrics for an upstream REST call.
func RecordDirectoryRequest(operation, status string, duration float64) {
	DirectoryRequestDuration.WithLabelValues(operation, status).Observe(duration)
}
