package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

const namespace = "fso_faq"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rejectedTotal   *prometheus.CounterVec

	answersTotal        *prometheus.CounterVec
	answerConfidence    *prometheus.HistogramVec
	answerSources       *prometheus.HistogramVec
	answerDuration      *prometheus.HistogramVec
	webFallbackDuration *prometheus.HistogramVec
	stageFailuresTotal  *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	breakerTransitions  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by traffic control, by reason.",
		},
		[]string{"service", "reason"},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "faq",
			Name:      "answers_total",
			Help:      "Total answered questions by scope, basis and search source.",
		},
		[]string{"service", "scope", "basis", "search_source"},
	)
	answerConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "faq",
			Name:      "confidence",
			Help:      "Distribution of answer confidence by basis.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service", "basis"},
	)
	answerSources := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "faq",
			Name:      "sources_used",
			Help:      "Distribution of evidence items per answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service", "basis"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "faq",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds by scope.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"service", "scope"},
	)
	webFallbackDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "faq",
			Name:      "web_fallback_duration_seconds",
			Help:      "Duration of questions answered or abandoned through the web fallback.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "scope"},
	)
	stageFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "faq",
			Name:      "stage_failures_total",
			Help:      "Total pipeline stage failures by stage.",
		},
		[]string{"service", "stage"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)
	breakerTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Total circuit breaker transitions by target state.",
		},
		[]string{"service", "operation", "to"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rejectedTotal,
		answersTotal,
		answerConfidence,
		answerSources,
		answerDuration,
		webFallbackDuration,
		stageFailuresTotal,
		breakerState,
		breakerTransitions,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		rejectedTotal:       rejectedTotal,
		answersTotal:        answersTotal,
		answerConfidence:    answerConfidence,
		answerSources:       answerSources,
		answerDuration:      answerDuration,
		webFallbackDuration: webFallbackDuration,
		stageFailuresTotal:  stageFailuresTotal,
		breakerState:        breakerState,
		breakerTransitions:  breakerTransitions,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded: unknown paths collapse to "other".
func normalizePath(path string) string {
	switch path {
	case "/healthz", "/metrics", "/openapi.yaml", "/v1/faq/search", "/v1/faq/audio", "/v1/knowledge":
		return path
	default:
		return "other"
	}
}

func (m *HTTPServerMetrics) RecordRejected(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.rejectedTotal.WithLabelValues(service, reason).Inc()
}

// RecordAnswer records one finished pipeline run.
func (m *HTTPServerMetrics) RecordAnswer(service string, env domain.AnswerEnvelope) {
	scope := labelOr(string(env.Scope), "unknown")
	basis := labelOr(string(env.Basis), string(domain.BasisNone))
	source := labelOr(string(env.SearchSource), string(domain.SourceNone))

	m.answersTotal.WithLabelValues(service, scope, basis, source).Inc()
	m.answerDuration.WithLabelValues(service, scope).Observe(env.ProcessingTime)
	if env.SearchSource == domain.SourceInternet {
		m.webFallbackDuration.WithLabelValues(service, scope).Observe(env.ProcessingTime)
	}
	if env.Scope != domain.ScopeFSORelated {
		return
	}
	m.answerConfidence.WithLabelValues(service, basis).Observe(env.Confidence)
	m.answerSources.WithLabelValues(service, basis).Observe(float64(env.SourcesUsed))
}

func (m *HTTPServerMetrics) RecordStageFailure(service, stage string) {
	m.stageFailuresTotal.WithLabelValues(service, labelOr(stage, "unknown")).Inc()
}

// RecordBreakerTransition tracks the current breaker state of an upstream operation.
func (m *HTTPServerMetrics) RecordBreakerTransition(service, operation string, to gobreaker.State) {
	m.breakerState.WithLabelValues(service, operation).Set(breakerStateValue(to))
	m.breakerTransitions.WithLabelValues(service, operation, to.String()).Inc()
}

// PipelineObserver adapts the metrics to the FAQ pipeline's observer hooks.
func (m *HTTPServerMetrics) PipelineObserver(service string) *FAQObserver {
	return &FAQObserver{metrics: m, service: service}
}

// BreakerListener returns a callback for resilience.WithStateListener.
func (m *HTTPServerMetrics) BreakerListener(service string) func(operation string, from, to gobreaker.State) {
	return func(operation string, _, to gobreaker.State) {
		m.RecordBreakerTransition(service, operation, to)
	}
}

type FAQObserver struct {
	metrics *HTTPServerMetrics
	service string
}

func (o *FAQObserver) ObserveAnswer(env domain.AnswerEnvelope) {
	o.metrics.RecordAnswer(o.service, env)
}

func (o *FAQObserver) ObserveStageFailure(stage string) {
	o.metrics.RecordStageFailure(o.service, stage)
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func labelOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
