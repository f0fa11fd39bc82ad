// Package observability wires parley's logging, metrics and tracing.
//
// Logging is log/slog with secret redaction and request-scoped fields taken
// from the context (connection, user, chat and event). Metrics are Prometheus
// collectors registered against a caller-supplied registerer so tests can use
// an isolated registry. Tracing is OpenTelemetry with an OTLP gRPC exporter; a
// tracer without an endpoint produces no-op spans.
package observability
