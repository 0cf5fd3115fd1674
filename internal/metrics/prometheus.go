// Package metrics exposes Prometheus metrics for the notes server.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the notes server.
type Metrics struct {
	registry *prometheus.Registry

	UsersRegistered      prometheus.Counter
	LoginFailures        prometheus.Counter
	NotesCreated         prometheus.Counter
	NoteGenerationErrors prometheus.Counter
	NoteGeneration       prometheus.Histogram

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// New registers every metric on a private registry, so several servers can
// live in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		UsersRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_users_registered_total",
			Help: "Total number of registered users",
		}),
		LoginFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_login_failures_total",
			Help: "Total number of rejected logins",
		}),
		NotesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_notes_created_total",
			Help: "Total number of stored notes",
		}),
		NoteGenerationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_note_generation_errors_total",
			Help: "Total number of failed note generations",
		}),
		NoteGeneration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicenotes_note_generation_duration_seconds",
			Help:    "Duration of note generation",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicenotes_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicenotes_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicenotes_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one handled request and classifies errors.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)

	switch {
	case statusCode >= 500:
		m.HTTPErrors.WithLabelValues(method, endpoint, "server_error").Inc()
	case statusCode >= 400:
		m.HTTPErrors.WithLabelValues(method, endpoint, "client_error").Inc()
	}
}

// RecordNoteGeneration records how long a generation took and whether it failed.
func (m *Metrics) RecordNoteGeneration(durationSeconds float64, err error) {
	m.NoteGeneration.Observe(durationSeconds)
	if err != nil {
		m.NoteGenerationErrors.Inc()
	}
}
