// Package telemetry owns the Prometheus metrics and OpenTelemetry tracing
// shared by the flush, archive, export and HTTP paths.
package telemetry
