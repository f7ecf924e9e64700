package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// knownRoutes maps path prefixes to bounded route labels, most specific first.
var knownRoutes = []struct{ prefix, label string }{
	{"/v1/derivatives/", "/v1/derivatives/{id}"},
	{"/v1/derivatives", "/v1/derivatives"},
	{"/healthz", "/healthz"},
	{"/metrics", "/metrics"},
}

type metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	bagsRequested     prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	httpLabels := []string{"method", "route", "status"}

	return &metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imageq",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests served by the API.",
		}, httpLabels),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imageq",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, httpLabels),
		rateLimitRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imageq",
			Subsystem: "api",
			Name:      "rate_limit_rejections_total",
			Help:      "Derivative requests rejected by the per-user token bucket.",
		}, []string{"route"}),
		queueEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imageq",
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Derivative jobs handed to the task queue.",
		}, []string{"queue"}),
		bagsRequested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "imageq",
			Subsystem: "api",
			Name:      "bags_requested_total",
			Help:      "Bags named by accepted derivative jobs.",
		}),
	}
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  routeLabel(r.URL.Path),
			"status": strconv.Itoa(rec.status),
		}
		m.requests.With(labels).Inc()
		m.latency.With(labels).Observe(time.Since(started).Seconds())
	})
}

func routeLabel(path string) string {
	for _, route := range knownRoutes {
		if strings.HasPrefix(path, route.prefix) {
			return route.label
		}
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
