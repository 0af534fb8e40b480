package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ilyes-bd/presence-api/internal/models"
)

const metricsNamespace = "presence"

// MetricsService carries the prometheus collectors plus a handful of
// atomic tallies for the JSON stats endpoint, so serving a snapshot
// never scrapes the registry. A nil receiver disables everything.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpDuration   *prometheus.HistogramVec
	httpTotal      *prometheus.CounterVec
	cacheLookup    prometheus.Histogram
	cacheWrite     prometheus.Histogram
	cacheRatio     prometheus.Gauge
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	queryDuration  *prometheus.HistogramVec
	closedSessions prometheus.Counter
	checkIns       prometheus.Counter

	hitTally       atomic.Uint64
	missTally      atomic.Uint64
	requestTally   atomic.Uint64
	requestNanos   atomic.Uint64
	queryTally     atomic.Uint64
	queryNanos     atomic.Uint64
}

// NewMetricsService builds a private registry with the API's collectors
// under the presence namespace.
func NewMetricsService() *MetricsService {
	m := &MetricsService{registry: prometheus.NewRegistry()}

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	m.httpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	m.cacheLookup = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cache_lookup_seconds",
		Help:      "Latency of cache lookups",
		Buckets:   prometheus.DefBuckets,
	})

	m.cacheWrite = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cache_write_seconds",
		Help:      "Latency of cache writes",
		Buckets:   prometheus.DefBuckets,
	})

	m.cacheRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "cache_hit_ratio",
		Help:      "Share of cache lookups that hit",
	})

	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cache_hits_total",
		Help:      "Total cache hits",
	})

	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cache_misses_total",
		Help:      "Total cache misses",
	})

	m.queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "db_query_duration_seconds",
		Help:      "Duration of labelled database queries",
		Buckets:   prometheus.DefBuckets,
	}, []string{"query"})

	m.closedSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_closed_total",
		Help:      "Total attendance sessions closed",
	})

	m.checkIns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "attendance_marks_total",
		Help:      "Total student check-ins recorded",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	m.registry.MustRegister(m.httpDuration, m.httpTotal, m.cacheLookup, m.cacheWrite,
		m.cacheRatio, m.cacheHits, m.cacheMisses, m.queryDuration, m.closedSessions, m.checkIns, goroutines)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the prometheus scrape endpoint.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one completed request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.httpTotal.WithLabelValues(method, path, code).Inc()
	m.requestTally.Add(1)
	m.requestNanos.Add(uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records one cache lookup and refreshes the hit
// ratio gauge.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLookup.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		m.hitTally.Add(1)
	} else {
		m.cacheMisses.Inc()
		m.missTally.Add(1)
	}
	if ratio, ok := hitRatio(m.hitTally.Load(), m.missTally.Load()); ok {
		m.cacheRatio.Set(ratio)
	}
}

// ObserveCacheWrite records one cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// IncSessionClosed bumps the closed session counter.
func (m *MetricsService) IncSessionClosed() {
	if m == nil {
		return
	}
	m.closedSessions.Inc()
}

// IncAttendanceMark bumps the check-in counter.
func (m *MetricsService) IncAttendanceMark() {
	if m == nil {
		return
	}
	m.checkIns.Inc()
}

// ObserveDBQuery records one labelled database query.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.queryTally.Add(1)
	m.queryNanos.Add(uint64(duration.Nanoseconds()))
}

// Snapshot aggregates the tallies into the JSON stats payload.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := m.hitTally.Load()
	misses := m.missTally.Load()
	snapshot := models.SystemMetrics{
		CacheHits:     hits,
		CacheMisses:   misses,
		RequestsTotal: m.requestTally.Load(),
		DBQueryCount:  m.queryTally.Load(),
		Goroutines:    runtime.NumGoroutine(),
		GeneratedAt:   time.Now().UTC(),
	}
	if ratio, ok := hitRatio(hits, misses); ok {
		snapshot.CacheHitRatio = ratio
	}
	snapshot.AverageRequestDurationMs = averageMillis(m.requestNanos.Load(), snapshot.RequestsTotal)
	snapshot.AverageDBQueryDurationMs = averageMillis(m.queryNanos.Load(), snapshot.DBQueryCount)
	return snapshot
}

func hitRatio(hits, misses uint64) (float64, bool) {
	total := hits + misses
	if total == 0 {
		return 0, false
	}
	return float64(hits) / float64(total), true
}

func averageMillis(totalNanos, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(totalNanos) / float64(count) / float64(time.Millisecond)
}
