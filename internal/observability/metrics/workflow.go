package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

// WorkflowMetrics records upload, polling and session measurements.
type WorkflowMetrics struct {
	registry *prometheus.Registry
	service  string

	uploadTotal       *prometheus.CounterVec
	uploadDuration    *prometheus.HistogramVec
	pollTotal         *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	sessionsFinished  *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec
	sinkFailuresTotal *prometheus.CounterVec
	malformedTotal    *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
}

// NewWorkflowMetrics registers into registry, or into a fresh one when registry is nil.
func NewWorkflowMetrics(service string, registry *prometheus.Registry) *WorkflowMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	uploadTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "total",
			Help:      "Image uploads by outcome.",
		},
		[]string{"service", "outcome"},
	)
	uploadDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Upload request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	pollTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "ticks_total",
			Help:      "Status queries by outcome.",
		},
		[]string{"service", "outcome"},
	)
	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of polling sessions in progress.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	sessionsFinished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Finished polling sessions by terminal state.",
		},
		[]string{"service", "state"},
	)
	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Time from tracking start to terminal state.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "state"},
	)
	sinkFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "sink_failures_total",
			Help:      "Completion sink failures by sink.",
		},
		[]string{"service", "sink"},
	)
	malformedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "malformed_reports_total",
			Help:      "Listing entries that could not be decoded, by consumer.",
		},
		[]string{"service", "source"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "retries_total",
			Help:      "Retries scheduled by the resilience executor.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		uploadTotal,
		uploadDuration,
		pollTotal,
		sessionsActive,
		sessionsFinished,
		sessionDuration,
		sinkFailuresTotal,
		malformedTotal,
		retriesTotal,
	)

	return &WorkflowMetrics{
		registry:          registry,
		service:           service,
		uploadTotal:       uploadTotal,
		uploadDuration:    uploadDuration,
		pollTotal:         pollTotal,
		sessionsActive:    sessionsActive,
		sessionsFinished:  sessionsFinished,
		sessionDuration:   sessionDuration,
		sinkFailuresTotal: sinkFailuresTotal,
		malformedTotal:    malformedTotal,
		retriesTotal:      retriesTotal,
	}
}

func (m *WorkflowMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkflowMetrics) ObserveUpload(outcome string, duration time.Duration) {
	m.uploadTotal.WithLabelValues(m.service, outcome).Inc()
	if duration > 0 {
		m.uploadDuration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
	}
}

func (m *WorkflowMetrics) ObservePoll(outcome string) {
	m.pollTotal.WithLabelValues(m.service, outcome).Inc()
}

func (m *WorkflowMetrics) SessionStarted() {
	m.sessionsActive.Inc()
}

func (m *WorkflowMetrics) SessionFinished(state domain.SessionState, duration time.Duration) {
	m.sessionsActive.Dec()
	m.sessionsFinished.WithLabelValues(m.service, string(state)).Inc()
	m.sessionDuration.WithLabelValues(m.service, string(state)).Observe(duration.Seconds())
}

func (m *WorkflowMetrics) ObserveSinkFailure(sink string) {
	m.sinkFailuresTotal.WithLabelValues(m.service, sink).Inc()
}

func (m *WorkflowMetrics) ObserveMalformedReport(source string) {
	m.malformedTotal.WithLabelValues(m.service, source).Inc()
}

// ObserveRetry matches resilience.RetryObserver.
func (m *WorkflowMetrics) ObserveRetry(operation string, _ int, _ error) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}
