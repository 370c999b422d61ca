package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the real-time layer. Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Connections         prometheus.Gauge
	UsersOnline         prometheus.Gauge
	InboundEvents       *prometheus.CounterVec
	Broadcasts          *prometheus.CounterVec
	PresenceTransitions *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webchat_ws_connections",
			Help: "Live websocket connections.",
		}),
		UsersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webchat_users_online",
			Help: "Users with at least one live connection.",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webchat_ws_events_total",
			Help: "Inbound client events by name.",
		}, []string{"event"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webchat_broadcasts_total",
			Help: "Outbound pushes by addressing scope.",
		}, []string{"scope"}),
		PresenceTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webchat_presence_transitions_total",
			Help: "Online/offline edges observed by the presence registry.",
		}, []string{"direction"}),
	}

	m.registry.MustRegister(
		m.Connections,
		m.UsersOnline,
		m.InboundEvents,
		m.Broadcasts,
		m.PresenceTransitions,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
