package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	indexTotal    *prometheus.CounterVec
	indexDuration *prometheus.HistogramVec
	indexInFlight prometheus.Gauge
	recordsAdded  *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	indexTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "knowledge_entries_total",
			Help:      "Total knowledge entries indexed by status.",
		},
		[]string{"service", "status"},
	)
	indexDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "knowledge_entry_duration_seconds",
			Help:      "Knowledge entry indexing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	indexInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "knowledge_entries_in_flight",
			Help:      "Number of knowledge entries being indexed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	recordsAdded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "knowledge_records_added_total",
			Help:      "Total single-language records written to the knowledge base.",
		},
		[]string{"service"},
	)

	registry.MustRegister(indexTotal, indexDuration, indexInFlight, recordsAdded)

	return &WorkerMetrics{
		registry:      registry,
		indexTotal:    indexTotal,
		indexDuration: indexDuration,
		indexInFlight: indexInFlight,
		recordsAdded:  recordsAdded,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEntry() {
	m.indexInFlight.Inc()
}

func (m *WorkerMetrics) FinishEntry(service string, duration time.Duration, added int, err error) {
	m.indexInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.indexTotal.WithLabelValues(service, status).Inc()
	m.indexDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if added > 0 {
		m.recordsAdded.WithLabelValues(service).Add(float64(added))
	}
}
