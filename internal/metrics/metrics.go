package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "persona",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "persona",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	// TriggersTotal counts trigger attempts by outcome: accepted, not_found,
	// conflict, invalid_state, error.
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "persona",
			Subsystem: "analysis",
			Name:      "triggers_total",
			Help:      "Analysis trigger attempts by result",
		},
		[]string{"media_type", "result"},
	)

	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "persona",
			Subsystem: "analysis",
			Name:      "outcomes_total",
			Help:      "Finished analyses by provider, status and error kind",
		},
		[]string{"provider", "status", "kind"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "persona",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Wall-clock time spent inside a provider adapter",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"provider"},
	)

	JobsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "persona",
			Subsystem: "worker",
			Name:      "jobs_recovered_total",
			Help:      "Running jobs returned to the queue after their lease expired",
		},
	)

	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "persona",
			Subsystem: "reports",
			Name:      "generated_total",
			Help:      "Report generation attempts by report type and status",
		},
		[]string{"report_type", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses (MCP over HTTP) working through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request counts and latency keyed by the chi route
// pattern, so ids in paths do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
