package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	TransactionsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_submitted_total",
			Help: "Total number of transactions accepted for evaluation",
		},
		[]string{"kind"}, // live | simulated
	)

	JobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of evaluation jobs enqueued to the broker",
		},
	)
	JobsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of evaluation jobs currently processing",
		},
	)
	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of evaluation jobs completed",
		},
	)
	JobsRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_requeued_total",
			Help: "Total number of evaluation jobs requeued after a transient failure",
		},
	)
	JobsDeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_dead_lettered_total",
			Help: "Total number of evaluation jobs moved to the dead-letter topic",
		},
	)

	RiskScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluation_risk_score",
			Help:    "Distribution of final composite risk scores [0,1]",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_decisions_total",
			Help: "Total number of terminal decisions by status",
		},
		[]string{"status"},
	)

	ThresholdRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threshold_refresh_total",
			Help: "Total number of rule-updater refresh attempts by outcome",
		},
		[]string{"outcome"}, // ok | error | defaults
	)
)

// InitMetrics registers all collectors; call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TransactionsSubmittedTotal)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsRequeuedTotal)
	prometheus.MustRegister(JobsDeadLetteredTotal)
	prometheus.MustRegister(RiskScoreHistogram)
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(ThresholdRefreshTotal)
}

// ObserveDecision records the outcome of one finished evaluation.
func ObserveDecision(status string, riskScore float64) {
	RiskScoreHistogram.Observe(riskScore)
	DecisionsTotal.WithLabelValues(status).Inc()
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := http.StatusText(ww.Status())
		HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}
