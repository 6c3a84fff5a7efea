package binding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus counters for bound fields.
// A nil *Metrics is valid and records nothing.
//
// Thread Safety: Safe for concurrent use.
type Metrics struct {
	// Writes counts field writes that reached the adapter.
	Writes prometheus.Counter

	// SuppressedWrites counts writes dropped as no-ops.
	SuppressedWrites prometheus.Counter

	// Notifications counts field notifications by source (local, external).
	Notifications *prometheus.CounterVec

	// DecodeFailures counts stored values that resolved to the default.
	DecodeFailures prometheus.Counter

	// EncodeFailures counts writes dropped because the value had no encoding.
	EncodeFailures prometheus.Counter

	// StoreErrors counts store calls that failed, by operation.
	StoreErrors *prometheus.CounterVec
}

// NewMetrics creates the binding metrics and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Writes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "binding",
			Name:      "writes_total",
			Help:      "Field writes passed to the store adapter",
		}),
		SuppressedWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "binding",
			Name:      "suppressed_writes_total",
			Help:      "Field writes dropped because the value was unchanged",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "binding",
			Name:      "notifications_total",
			Help:      "Field change notifications by source",
		}, []string{"source"}),
		DecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "binding",
			Name:      "decode_failures_total",
			Help:      "Stored values that could not be decoded and fell back to the default",
		}),
		EncodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "binding",
			Name:      "encode_failures_total",
			Help:      "Writes dropped because the value could not be encoded",
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "binding",
			Name:      "store_errors_total",
			Help:      "Failed store calls by operation",
		}, []string{"op"}),
	}
}

const (
	sourceLocal    = "local"
	sourceExternal = "external"
)

func (m *Metrics) write() {
	if m != nil {
		m.Writes.Inc()
	}
}

func (m *Metrics) suppressed() {
	if m != nil {
		m.SuppressedWrites.Inc()
	}
}

func (m *Metrics) notified(source string) {
	if m != nil {
		m.Notifications.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) decodeFailed() {
	if m != nil {
		m.DecodeFailures.Inc()
	}
}

func (m *Metrics) encodeFailed() {
	if m != nil {
		m.EncodeFailures.Inc()
	}
}

func (m *Metrics) storeFailed(op string) {
	if m != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}
