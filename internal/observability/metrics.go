package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	chatConnections      prometheus.Gauge
	chatOnlineUsers      prometheus.Gauge
	chatMessagesSent     *prometheus.CounterVec
	chatEventsDropped    *prometheus.CounterVec
	chatReactionToggles  *prometheus.CounterVec
	chatDeliveryChanges  *prometheus.CounterVec
	chatRateLimited      prometheus.Counter
	uploadRequestsTotal  *prometheus.CounterVec
	uploadRejectedTotal  *prometheus.CounterVec
	uploadLatencySeconds prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used by the chat service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		chatConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Websocket connections attached to this node.",
		})

		chatOnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Users with a registered presence session.",
		})

		chatMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted, by target kind and message type.",
		}, []string{"target", "type"})

		chatEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_events_dropped_total",
			Help: "Realtime events not delivered because a client was absent or slow.",
		}, []string{"event"})

		chatReactionToggles = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_reaction_toggles_total",
			Help: "Reaction toggles by resulting action.",
		}, []string{"action"})

		chatDeliveryChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_delivery_transitions_total",
			Help: "Messages moved to a delivery state.",
		}, []string{"state"})

		chatRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_events_rate_limited_total",
			Help: "Inbound websocket events rejected by the per-connection limiter.",
		})

		uploadRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_requests_total",
			Help: "Accepted attachment uploads by kind.",
		}, []string{"kind"})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_rejected_total",
			Help: "Rejected attachment uploads by reason.",
		}, []string{"reason"})

		uploadLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_latency_seconds",
			Help:    "Latency of attachment uploads.",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			chatConnections, chatOnlineUsers, chatMessagesSent, chatEventsDropped,
			chatReactionToggles, chatDeliveryChanges, chatRateLimited,
			uploadRequestsTotal, uploadRejectedTotal, uploadLatencySeconds,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// ChatConnections exposes the active connection gauge.
func ChatConnections() prometheus.Gauge {
	RegisterMetrics()
	return chatConnections
}

// ChatOnlineUsers exposes the online user gauge.
func ChatOnlineUsers() prometheus.Gauge {
	RegisterMetrics()
	return chatOnlineUsers
}

// ChatMessagesSent exposes the persisted message counter.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSent
}

// ChatEventsDropped exposes the dropped event counter.
func ChatEventsDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return chatEventsDropped
}

// ChatReactionToggles exposes the reaction toggle counter.
func ChatReactionToggles() *prometheus.CounterVec {
	RegisterMetrics()
	return chatReactionToggles
}

// ChatDeliveryTransitions exposes the delivery state transition counter.
func ChatDeliveryTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return chatDeliveryChanges
}

// ChatRateLimited exposes the limiter rejection counter.
func ChatRateLimited() prometheus.Counter {
	RegisterMetrics()
	return chatRateLimited
}

// UploadRequests exposes the accepted upload counter.
func UploadRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRequestsTotal
}

// UploadRejected exposes the rejected upload counter.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// UploadLatency exposes the upload latency histogram.
func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatencySeconds
}
