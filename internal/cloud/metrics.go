package cloud

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics holds the Prometheus collectors for a Server.
// A nil *ServerMetrics is valid and records nothing.
type ServerMetrics struct {
	// Connections is the number of open client connections.
	Connections prometheus.Gauge

	// AppliedWrites counts ops that changed the key table, by op (set, remove).
	AppliedWrites *prometheus.CounterVec

	// IgnoredWrites counts ops that left the key table unchanged.
	IgnoredWrites prometheus.Counter

	// Broadcasts counts changed messages queued to clients.
	Broadcasts prometheus.Counter

	// DroppedConnections counts clients disconnected for falling behind.
	DroppedConnections prometheus.Counter
}

// NewServerMetrics creates the server metrics and registers them with reg.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	f := promauto.With(reg)
	return &ServerMetrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldsync",
			Subsystem: "cloud",
			Name:      "connections",
			Help:      "Open client connections",
		}),
		AppliedWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "cloud",
			Name:      "applied_writes_total",
			Help:      "Client ops that changed the key table",
		}, []string{"op"}),
		IgnoredWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "cloud",
			Name:      "ignored_writes_total",
			Help:      "Client ops that left the key table unchanged",
		}),
		Broadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "cloud",
			Name:      "broadcasts_total",
			Help:      "Change messages queued to clients",
		}),
		DroppedConnections: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "cloud",
			Name:      "dropped_connections_total",
			Help:      "Clients disconnected because their send buffer was full",
		}),
	}
}

func (m *ServerMetrics) connected(delta float64) {
	if m == nil {
		return
	}
	m.Connections.Add(delta)
}

func (m *ServerMetrics) applied(op string) {
	if m == nil {
		return
	}
	m.AppliedWrites.WithLabelValues(op).Inc()
}

func (m *ServerMetrics) ignored() {
	if m == nil {
		return
	}
	m.IgnoredWrites.Inc()
}

func (m *ServerMetrics) broadcast() {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
}

func (m *ServerMetrics) dropped() {
	if m == nil {
		return
	}
	m.DroppedConnections.Inc()
}
