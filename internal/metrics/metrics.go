// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	MessagesRouted   *prometheus.CounterVec // by delivery path: "live" or "queued"
	TypingDropped    prometheus.Counter
	BacklogDelivered prometheus.Counter
	ConnectedClients prometheus.Gauge
}

// New registers the relay metrics with the given registerer. Passing nil uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "messages_routed_total",
			Help:      "Chat messages routed, by delivery path",
		}, []string{"delivery"}),

		TypingDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "typing_dropped_total",
			Help:      "Typing notices dropped because the recipient was offline",
		}),

		BacklogDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "backlog_delivered_total",
			Help:      "Queued messages delivered on reconnect",
		}),

		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Name:      "connected_clients",
			Help:      "Identities with a live WebSocket connection",
		}),
	}
}
