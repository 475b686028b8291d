package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryanwahyu/realcheck/internal/application/analysis"
)

// Metrics holds the Prometheus collectors for HTTP traffic and the job
// pipeline. It satisfies analysis.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	inFlight    prometheus.Gauge
	latency     *prometheus.HistogramVec
	submissions *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobLatency  prometheus.Histogram
	reclaimed   prometheus.Counter
}

var _ analysis.Metrics = (*Metrics)(nil)

// NewMetrics registers everything on a fresh registry, plus Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realcheck_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realcheck_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "realcheck_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realcheck_submissions_total",
			Help: "Submit outcomes: cached, accepted, rejected.",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realcheck_jobs_finished_total",
			Help: "Job attempts by final status of the attempt.",
		}, []string{"status"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "realcheck_job_duration_seconds",
			Help:    "Wall time of one job attempt.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realcheck_jobs_reclaimed_total",
			Help: "Jobs failed by the stuck-job reclaimer.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.inFlight, m.latency,
		m.submissions, m.jobs, m.jobLatency, m.reclaimed,
	)
	return m
}

func (m *Metrics) Submitted(outcome analysis.Outcome) {
	m.submissions.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) JobFinished(status string, took time.Duration) {
	m.jobs.WithLabelValues(status).Inc()
	m.jobLatency.Observe(took.Seconds())
}

func (m *Metrics) Reclaimed(n int) {
	m.reclaimed.Add(float64(n))
}

// Middleware tracks request metrics. Route label uses the chi pattern so
// fingerprints and job IDs don't blow up cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		wrapped := wrap(w)
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
