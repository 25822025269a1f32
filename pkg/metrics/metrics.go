package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished live events published per type
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "events_published_total",
		Help:      "Live events published on conversation topics.",
	}, []string{"type"})

	// EventPublishErrors failed publishes per type
	EventPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "event_publish_errors_total",
		Help:      "Live events that failed to publish.",
	}, []string{"type"})

	// StoreErrors repository failures per operation
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "store_errors_total",
		Help:      "Message store operations that failed.",
	}, []string{"op"})

	// WebsocketConnections currently open websocket connections
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "websocket_connections",
		Help:      "Open websocket connections.",
	})

	// Subscriptions active conversation subscriptions across connections
	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "topic_subscriptions",
		Help:      "Active conversation topic subscriptions.",
	})
)
