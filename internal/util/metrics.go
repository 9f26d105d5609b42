package util

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyai_http_requests_total",
			Help: "HTTP requests handled, by service, route and status.",
		},
		[]string{"service", "method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyai_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)
)

// WithMetrics records request counts and latency. It must wrap the
// *http.ServeMux directly: the route label is the matched mux pattern, which
// keeps label cardinality bounded when paths carry ids.
func WithMetrics(service string, mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		mux.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(service, r.Method, route, strconv.Itoa(rec.code())).Inc()
		httpRequestDuration.WithLabelValues(service, r.Method, route).Observe(time.Since(start).Seconds())
	})
}
