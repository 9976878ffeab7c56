// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks open WebSocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of open WebSocket connections",
		},
	)

	// OnlineUsers tracks the size of the presence set.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Number of users with a registered live connection",
		},
	)

	// PresenceBroadcasts tracks presence roster broadcasts.
	PresenceBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_broadcasts_total",
			Help: "Total presence roster broadcasts",
		},
	)

	// EventsDelivered tracks real-time event delivery attempts by outcome.
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Real-time events by kind and outcome",
		},
		[]string{"event", "result"},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total direct messages sent",
		},
		[]string{"result"},
	)

	// ConversationsTotal tracks conversations created lazily on first message.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// NotificationsTotal tracks like/dislike notifications.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications by type and outcome",
		},
		[]string{"type", "result"},
	)

	// StoreOperationDuration tracks persistence call latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordDelivery records the outcome of one real-time event delivery.
func RecordDelivery(event, result string) {
	EventsDelivered.WithLabelValues(event, result).Inc()
}

// RecordStoreOperation records the latency of a store call.
func RecordStoreOperation(operation string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperationDuration.WithLabelValues(operation, status).Observe(duration)
}

// IncrementWSConnections increments the open WebSocket connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the open WebSocket connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}
