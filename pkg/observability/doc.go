// Package observability provides structured JSON logging and Prometheus
// metrics for the permission engine.
//
// Logging wraps stdlib slog with a small chained-field API:
//
//	logger := observability.NewLogger(observability.InfoLevel, nil)
//	logger.WithField("tenant_id", tenantID).Info("cache invalidated")
//
// Metrics cover the engine's hot paths: resolutions and their latency,
// cache hits/misses/invalidations, denials by kind, and audit appends.
package observability
