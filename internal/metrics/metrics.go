// Package metrics exposes Prometheus instrumentation for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/attendance"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	registrations   prometheus.Counter
	matchAttempts   *prometheus.CounterVec
	matchDistance   prometheus.Histogram
	galleryLookups  *prometheus.CounterVec
}

// New registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_students_registered_total",
			Help: "Students registered since start",
		}),
		matchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_match_attempts_total",
			Help: "Attendance mark attempts by outcome",
		}, []string{"outcome"}),
		matchDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_match_distance",
			Help:    "Normalized Hamming distance of the best gallery match",
			Buckets: prometheus.LinearBuckets(0, 0.05, 21),
		}),
		galleryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_gallery_cache_lookups_total",
			Help: "Gallery cache lookups by result",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.requestDuration,
		m.requestTotal,
		m.registrations,
		m.matchAttempts,
		m.matchDistance,
		m.galleryLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

// StudentRegistered implements attendance.Observer.
func (m *Metrics) StudentRegistered() {
	m.registrations.Inc()
}

// MatchAttempt implements attendance.Observer.
func (m *Metrics) MatchAttempt(outcome attendance.Outcome, distance float64) {
	m.matchAttempts.WithLabelValues(string(outcome)).Inc()
	if outcome != attendance.OutcomeNoStudents {
		m.matchDistance.Observe(distance)
	}
}

// GalleryLookup implements attendance.Observer.
func (m *Metrics) GalleryLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.galleryLookups.WithLabelValues(result).Inc()
}
