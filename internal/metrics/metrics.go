// Package metrics exposes Prometheus instrumentation for the EPG pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MirrorFetches counts upstream EPG fetches by result.
	MirrorFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgviewer_mirror_fetches_total",
		Help: "Upstream EPG fetches by result (fetched, not_modified, stale, error).",
	}, []string{"result"})

	// MirrorSnapshots tracks the number of rotated mirror snapshots on disk.
	MirrorSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epgviewer_mirror_snapshots",
		Help: "Rotated mirror snapshots currently retained.",
	})

	// DocumentParses counts full XMLTV document parses.
	DocumentParses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epgviewer_document_parses_total",
		Help: "XMLTV documents parsed end to end.",
	})

	// CacheRequests counts artifact cache lookups by outcome.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgviewer_cache_requests_total",
		Help: "Artifact cache lookups by outcome (hit, miss).",
	}, []string{"outcome"})

	// Exports counts rendered export documents by variant.
	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgviewer_exports_total",
		Help: "Rendered export documents by variant (xml, gz) and origin (cache, live).",
	}, []string{"variant", "origin"})

	// PrewarmJobs counts prewarm jobs by state transition.
	PrewarmJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgviewer_prewarm_jobs_total",
		Help: "Prewarm jobs by state (submitted, done, error).",
	}, []string{"state"})

	// HTTPRequests counts API requests by method, route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgviewer_http_requests_total",
		Help: "HTTP requests handled.",
	}, []string{"method", "path", "status"})

	// HTTPDuration tracks API request latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epgviewer_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordMirrorFetch increments the fetch counter for one result class.
func RecordMirrorFetch(result string) {
	MirrorFetches.WithLabelValues(result).Inc()
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	CacheRequests.WithLabelValues("hit").Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	CacheRequests.WithLabelValues("miss").Inc()
}

// RecordExport increments the export counter for a variant and origin.
func RecordExport(gzipped, fromCache bool) {
	variant := "xml"
	if gzipped {
		variant = "gz"
	}
	origin := "live"
	if fromCache {
		origin = "cache"
	}
	Exports.WithLabelValues(variant, origin).Inc()
}

// RecordPrewarm increments the prewarm counter for a final state.
func RecordPrewarm(state string) {
	PrewarmJobs.WithLabelValues(state).Inc()
}

// Handler returns the Prometheus scrape handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency for every handled request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if len(path) > 64 {
			path = path[:64]
		}
		HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
