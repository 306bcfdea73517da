package observability

// Package observability provides structured logging, Prometheus metrics,
// and health checking capabilities for vulnforge.
//
// Key features:
// - Structured JSON logging with configurable log levels
// - Prometheus metrics for monitoring the queue, reconciliation, and analysis
// - Health checks for component status monitoring
// - HTTP endpoints for /metrics, /health, and /ready
