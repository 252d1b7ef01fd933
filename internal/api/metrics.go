package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// apiMetrics is registered on a private registry served at /metrics.
type apiMetrics struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	latency            *prometheus.HistogramVec
	throttled          *prometheus.CounterVec
	conversionsCreated *prometheus.CounterVec
	conversionsQueued  *prometheus.CounterVec
}

func newMetrics() *apiMetrics {
	labels := []string{"method", "route", "code"}
	m := &apiMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixeltensor",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status class.",
		}, labels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pixeltensor",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving one HTTP request.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}, labels),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixeltensor",
			Subsystem: "api",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests refused by the per-user token bucket.",
		}, []string{"route"}),
		conversionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixeltensor",
			Subsystem: "api",
			Name:      "conversions_created_total",
			Help:      "Conversion jobs accepted, by source type and element type.",
		}, []string{"source_type", "dtype"}),
		conversionsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixeltensor",
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Conversion jobs handed to the worker queue.",
		}, []string{"queue"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.throttled,
		m.conversionsCreated,
		m.conversionsQueued,
	)
	return m
}

func (m *apiMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *apiMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rw := newResponseRecorder(w)
		next.ServeHTTP(rw, r)

		values := []string{r.Method, routeLabel(r.URL.Path), codeClass(rw.status)}
		m.requests.WithLabelValues(values...).Inc()
		m.latency.WithLabelValues(values...).Observe(time.Since(began).Seconds())
	})
}

// codeClass folds a status code into 2xx, 4xx, ...
func codeClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return string(rune('0'+status/100)) + "xx"
}

// routeLabel collapses job ids so label cardinality stays bounded.
func routeLabel(path string) string {
	const prefix = "/v1/conversions"
	switch {
	case path == prefix || path == prefix+"/":
		return prefix
	case strings.HasPrefix(path, prefix+"/") && strings.HasSuffix(path, "/start"):
		return prefix + "/{id}/start"
	case strings.HasPrefix(path, prefix+"/"):
		return prefix + "/{id}"
	case path == "/healthz" || path == "/metrics":
		return path
	default:
		return "other"
	}
}

// responseRecorder remembers the status written by the wrapped handler.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	if rec, ok := w.(*responseRecorder); ok {
		return rec
	}
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
