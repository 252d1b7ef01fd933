package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry            *prometheus.Registry
	jobsTotal           *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	failuresTotal       *prometheus.CounterVec
	activeJobs          prometheus.Gauge
	tensorBytesTotal    prometheus.Counter
	sourcePixelsTotal   prometheus.Counter
	tensorElementsTotal prometheus.Counter
	computeTimeMSTotal  prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeltensor_worker_jobs_total",
			Help: "Total conversion jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixeltensor_worker_job_duration_seconds",
			Help:    "End to end duration of each conversion job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixeltensor_worker_failures_total",
			Help: "Failed conversion attempts split into input and transient errors.",
		}, []string{"kind"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixeltensor_worker_active_jobs",
			Help: "Conversions currently running in the worker.",
		}),
		tensorBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeltensor_worker_tensor_bytes_total",
			Help: "Serialized tensor bytes written by the worker.",
		}),
		sourcePixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeltensor_usage_source_pixels_total",
			Help: "Decoded source pixels across successful jobs.",
		}),
		tensorElementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeltensor_usage_tensor_elements_total",
			Help: "Tensor elements produced across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixeltensor_usage_compute_time_ms_total",
			Help: "Compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.failuresTotal,
		m.activeJobs,
		m.tensorBytesTotal,
		m.sourcePixelsTotal,
		m.tensorElementsTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
