package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration tracks HTTP latency by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// JobsStartedTotal counts jobs admitted by the dispatcher.
	JobsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_started_total",
			Help: "Total number of jobs admitted",
		},
		[]string{"type"},
	)
	// JobsRunning gauges pipeline runners currently executing.
	JobsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of jobs currently executing",
		},
		[]string{"type"},
	)
	// JobsCompletedTotal counts jobs finishing in completed.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	// JobsFailedTotal counts jobs finishing in failed, including watchdog reaps.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)
	// JobsCancelledTotal counts user cancellations.
	JobsCancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_cancelled_total",
			Help: "Total number of jobs cancelled",
		},
		[]string{"type"},
	)

	// CreditsDebitedTotal sums credits taken at admission.
	CreditsDebitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_debited_total",
			Help: "Total credits debited from users",
		},
	)
	// CreditsRefundedTotal sums credits returned on failure or cancellation.
	CreditsRefundedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_refunded_total",
			Help: "Total credits refunded to users",
		},
	)

	// ScrapeWorkersLive gauges live scrape workers across all users.
	ScrapeWorkersLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrape_workers_live",
			Help: "Number of live scrape workers",
		},
	)
)

// InitMetrics registers all Prometheus collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsStartedTotal)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsCancelledTotal)
	prometheus.MustRegister(CreditsDebitedTotal)
	prometheus.MustRegister(CreditsRefundedTotal)
	prometheus.MustRegister(ScrapeWorkersLive)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// StartJob counts an admitted job. The JobsRunning gauge is owned by the
// runner goroutine itself (inc on entry, deferred dec) so early exits on
// cancellation cannot leak it.
func StartJob(jobType string) {
	JobsStartedTotal.WithLabelValues(jobType).Inc()
}

// RunnerActive marks a runner goroutine live and returns the matching
// release for the caller to defer.
func RunnerActive(jobType string) func() {
	g := JobsRunning.WithLabelValues(jobType)
	g.Inc()
	return g.Dec
}

// CompleteJob counts a runner that finished successfully.
func CompleteJob(jobType string) {
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

// FailJob counts a runner that finished in failure, or a watchdog reap.
func FailJob(jobType string) {
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}
