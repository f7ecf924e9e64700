package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	bagsTotal            *prometheus.CounterVec
	filesTotal           *prometheus.CounterVec
	catalogFailuresTotal prometheus.Counter
	webhookFailuresTotal prometheus.Counter
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
			Name: "imageq_worker_jobs_total",
			Help: "Total derivative jobs by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imageq_worker_job_duration_seconds",
			Help:    "Total processing duration for each derivative job.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imageq_worker_active_jobs",
			Help: "Current number of active derivative jobs in the worker.",
		}),
		bagsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageq_worker_bags_total",
			Help: "Total bags processed by bag status.",
		}, []string{"status"}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageq_worker_files_total",
			Help: "Total source files processed by outcome.",
		}, []string{"status"}),
		catalogFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageq_worker_catalog_failures_total",
			Help: "Total bags whose catalog update failed.",
		}),
		webhookFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageq_worker_webhook_failures_total",
			Help: "Total webhook deliveries that failed after retries.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.bagsTotal,
		m.filesTotal,
		m.catalogFailuresTotal,
		m.webhookFailuresTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
