package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server's Prometheus instruments, on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Requests       *prometheus.CounterVec
	DocumentWrites *prometheus.CounterVec
	Subscribers    prometheus.Gauge
	PushedBatches  prometheus.Counter
	DroppedBatches prometheus.Counter
}

// NewMetrics creates the instruments on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kensho",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		DocumentWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kensho",
			Name:      "document_writes_total",
			Help:      "Documents upserted, by collection.",
		}, []string{"collection"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kensho",
			Name:      "push_subscribers",
			Help:      "Open push channels.",
		}),
		PushedBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kensho",
			Name:      "push_batches_total",
			Help:      "Change batches written to push channels.",
		}),
		DroppedBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kensho",
			Name:      "push_batches_dropped_total",
			Help:      "Change batches dropped because a subscriber was too slow.",
		}),
	}
}

// OnDrop counts a dropped batch. Pass it as docstore.Options.OnDrop.
func (m *Metrics) OnDrop() {
	m.DroppedBatches.Inc()
}
