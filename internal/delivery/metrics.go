// ABOUTME: Prometheus instrumentation for the delivery engine.

package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes delivery counters to the /metrics endpoint.
type Metrics struct {
	MessagesSent      prometheus.Counter
	MessagesRead      prometheus.Counter
	DeliveredApplied  prometheus.Counter
	DeliveredSkipped  prometheus.Counter
	RateLimited       prometheus.Counter
	ActiveConnections prometheus.Gauge
}

// NewMetrics registers the delivery metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages accepted and persisted by the delivery engine.",
		}),
		MessagesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_read_total",
			Help: "Messages transitioned to read by read receipts.",
		}),
		DeliveredApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_delivered_transitions_total",
			Help: "Delivered transitions that applied before a read receipt.",
		}),
		DeliveredSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_delivered_skipped_total",
			Help: "Delivered transitions skipped because the message was already read.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "message:send requests rejected by the per-sender rate limiter.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Live websocket connections.",
		}),
	}
}
