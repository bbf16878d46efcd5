// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks, and graceful shutdown.
//
// # Structured Logging
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("server started")
//
// Request-scoped logging pulls the request id and user id from context:
//
//	observability.FromContext(ctx).Warn("session lookup failed")
//
// # Prometheus Metrics
//
// Initialize and use metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.CacheHitsTotal.WithLabelValues("permissions").Inc()
//
// # Health Checks
//
// Configure a health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//
// Redis being down reports degraded, not unhealthy: resolvers fall back
// to the database, only session authentication is lost.
package observability
