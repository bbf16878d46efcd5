package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionOperationsTotal *prometheus.CounterVec
	SessionsRejectedTotal  *prometheus.CounterVec

	// Authorization metrics
	PermissionChecksTotal  *prometheus.CounterVec
	EntitlementChecksTotal *prometheus.CounterVec
	UsageLimitHitsTotal    *prometheus.CounterVec

	// Cache metrics, labeled by key family (sessions, permissions,
	// entitlements, usage)
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec
	CacheFallbacksTotal   *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Background work
	UsageSyncFailuresTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "colabrix_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SessionOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_session_operations_total",
				Help: "Total number of session store operations",
			},
			[]string{"operation", "status"},
		),
		SessionsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_sessions_rejected_total",
				Help: "Requests rejected at authentication",
			},
			[]string{"reason"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"result"},
		),
		EntitlementChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_entitlement_checks_total",
				Help: "Total number of feature entitlement checks",
			},
			[]string{"feature", "result"},
		),
		UsageLimitHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_usage_limit_hits_total",
				Help: "Feature requests refused because the monthly limit was reached",
			},
			[]string{"feature"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		CacheFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_cache_fallbacks_total",
				Help: "Reads served from the database because the cache was unavailable",
			},
			[]string{"cache"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colabrix_cache_invalidations_total",
				Help: "Total number of cache invalidations",
			},
			[]string{"cache"},
		),

		UsageSyncFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "colabrix_usage_sync_failures_total",
				Help: "Failed background mirrors of usage counters to the database",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "colabrix_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "colabrix_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "colabrix_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SessionOperationsTotal,
		m.SessionsRejectedTotal,
		m.PermissionChecksTotal,
		m.EntitlementChecksTotal,
		m.UsageLimitHitsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheFallbacksTotal,
		m.CacheInvalidationsTotal,
		m.UsageSyncFailuresTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RedisConnectionsActive,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
