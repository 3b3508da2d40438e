package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ArchiverMetrics struct {
	registry *prometheus.Registry

	archiveTotal    *prometheus.CounterVec
	archiveDuration *prometheus.HistogramVec
	archiveInFlight prometheus.Gauge
	completionLag   *prometheus.HistogramVec
}

func NewArchiverMetrics(service string) *ArchiverMetrics {
	registry := prometheus.NewRegistry()

	archiveTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archiver",
			Name:      "reports_total",
			Help:      "Total archived completion events by status.",
		},
		[]string{"service", "status"},
	)
	archiveDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "archiver",
			Name:      "duration_seconds",
			Help:      "Archive write duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	archiveInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archiver",
			Name:      "in_flight",
			Help:      "Number of completion events being archived.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	completionLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "archiver",
			Name:      "completion_lag_seconds",
			Help:      "Delay between report completion and archiving.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(archiveTotal, archiveDuration, archiveInFlight, completionLag)

	return &ArchiverMetrics{
		registry:        registry,
		archiveTotal:    archiveTotal,
		archiveDuration: archiveDuration,
		archiveInFlight: archiveInFlight,
		completionLag:   completionLag,
	}
}

func (m *ArchiverMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ArchiverMetrics) StartArchive() {
	m.archiveInFlight.Inc()
}

func (m *ArchiverMetrics) FinishArchive(service string, duration time.Duration, err error) {
	m.archiveInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.archiveTotal.WithLabelValues(service, status).Inc()
	m.archiveDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *ArchiverMetrics) ObserveCompletionLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.completionLag.WithLabelValues(service).Observe(lag.Seconds())
}
