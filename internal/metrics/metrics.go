// Package metrics exposes Prometheus collectors for the escrow service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/0gfoundation/0g-escrow/internal/escrow"
)

type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	deliveries *prometheus.CounterVec
	reclaims   prometheus.Counter
	queueDepth prometheus.Gauge
}

var (
	once     sync.Once
	registry *Metrics
)

// Escrow returns the process-wide metrics, registering them on first use.
func Escrow() *Metrics {
	once.Do(func() {
		registry = &Metrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Lifecycle operations segmented by operation and result code.",
			}, []string{"op", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "operation_seconds",
				Help:      "Lifecycle operation latency.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			}, []string{"op"}),
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "relay",
				Name:      "deliveries_total",
				Help:      "Webhook deliveries segmented by outcome.",
			}, []string{"outcome"}),
			reclaims: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "watcher",
				Name:      "reclaimable_notices_total",
				Help:      "Reclaimable notices published for expired authorizations.",
			}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "relay",
				Name:      "queue_depth",
				Help:      "Events waiting in the relay queue after the last drain.",
			}),
		}
		prometheus.MustRegister(registry.operations, registry.latency, registry.deliveries, registry.reclaims, registry.queueDepth)
	})
	return registry
}

// ObserveOperation implements escrow.Observer.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, escrow.Code(err)).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordDelivery counts one relay outcome: delivered, dead_letter or requeued.
func (m *Metrics) RecordDelivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordReclaimable() {
	if m == nil {
		return
	}
	m.reclaims.Inc()
}

func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
