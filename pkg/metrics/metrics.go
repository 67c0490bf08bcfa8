// Package metrics exposes the Prometheus endpoint and HTTP server metrics.
// Pipeline metrics are defined in their own packages (cache, ratelimit,
// upstream, fetch) via promauto and land in the default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the proxy.
var Registry = prometheus.DefaultRegisterer

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelproxy_http_requests_total",
		Help: "Total HTTP requests served by route template and status",
	}, []string{"route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hotelproxy_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route template",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and latency labelled by the mux route
// template, so path variables do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Metrics Documentation
//
// Fast Cache (pkg/cache):
//   - hotelproxy_cache_hits_total{layer} (Counter)
//   - hotelproxy_cache_misses_total (Counter)
//   - hotelproxy_cache_written_bytes_total{layer} (Counter)
//   - hotelproxy_cache_errors_total{operation} (Counter)
//
// Admission (pkg/ratelimit):
//   - hotelproxy_rate_limit_waits_total (Counter): rejected attempts that backed off
//   - hotelproxy_rate_limit_wait_seconds (Histogram): time to admission after backoff
//   - hotelproxy_upstream_quota_remaining (Gauge): provider-reported quota
//
// Upstream (pkg/upstream):
//   - hotelproxy_upstream_requests_total{endpoint, status} (Counter)
//   - hotelproxy_upstream_request_duration_seconds{endpoint} (Histogram)
//   - hotelproxy_upstream_errors_total{class} (Counter)
//
// Pipeline (pkg/fetch):
//   - hotelproxy_fetch_total{endpoint, source} (Counter)
//   - hotelproxy_durable_stale_total{endpoint, reason} (Counter)
//
// HTTP (pkg/metrics):
//   - hotelproxy_http_requests_total{route, status} (Counter)
//   - hotelproxy_http_request_duration_seconds{route} (Histogram)
//
// Example Prometheus Queries:
//
//   # Share of requests answered without an upstream call
//   1 - sum(rate(hotelproxy_fetch_total{source="upstream"}[5m])) /
//       sum(rate(hotelproxy_fetch_total[5m]))
//
//   # Time spent waiting for admission (P95)
//   histogram_quantile(0.95, rate(hotelproxy_rate_limit_wait_seconds_bucket[5m]))
//
//   # Provider quota nearly exhausted
//   hotelproxy_upstream_quota_remaining < 100
