package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every exported metric.
const Namespace = "labelflow"

// Metrics holds the Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	StageDuration  *prometheus.HistogramVec
	LabelsRendered *prometheus.CounterVec
	PrintJobs      *prometheus.CounterVec
	Uploads        *prometheus.CounterVec
	JobsInFlight   prometheus.Gauge
}

// New creates the instruments on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind", "stage"},
	)

	m.LabelsRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "labels_total",
			Help:      "Labels by final render status",
		},
		[]string{"kind", "status"},
	)

	m.PrintJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "print_jobs_total",
			Help:      "Print job submissions",
		},
		[]string{"kind", "status"},
	)

	m.Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "uploads_total",
			Help:      "Document uploads",
		},
		[]string{"kind", "status"},
	)

	m.JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "jobs_in_flight",
			Help:      "Asynchronous label jobs currently running",
		},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StageDuration,
		m.LabelsRendered,
		m.PrintJobs,
		m.Uploads,
		m.JobsInFlight,
	)
	return m
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStage records a pipeline stage duration.
func (m *Metrics) RecordStage(kind, stage string, duration time.Duration) {
	m.StageDuration.WithLabelValues(kind, stage).Observe(duration.Seconds())
}

// RecordLabels adds render outcomes.
func (m *Metrics) RecordLabels(kind string, successful, failed, cancelled int) {
	m.LabelsRendered.WithLabelValues(kind, "success").Add(float64(successful))
	m.LabelsRendered.WithLabelValues(kind, "failed").Add(float64(failed))
	m.LabelsRendered.WithLabelValues(kind, "cancelled").Add(float64(cancelled))
}

// RecordPrint records a print submission outcome.
func (m *Metrics) RecordPrint(kind string, success bool) {
	m.PrintJobs.WithLabelValues(kind, status(success)).Inc()
}

// RecordUploads adds upload outcomes.
func (m *Metrics) RecordUploads(kind string, uploaded, failed int) {
	m.Uploads.WithLabelValues(kind, "success").Add(float64(uploaded))
	m.Uploads.WithLabelValues(kind, "failed").Add(float64(failed))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
