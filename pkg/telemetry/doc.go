// Package telemetry groups the observability subpackages: structured
// logging with credential redaction, Prometheus metrics, OTLP tracing,
// and component health checks.
package telemetry
