// Package observability provides structured logging and Prometheus metrics
// for the CRM API.
//
// Loggers are plain *zap.Logger values; request-scoped lines carry the chi
// request id. Metrics live in a private registry exposed on /metrics.
package observability
