// Package observability provides an OpenTelemetry-based lifecycle hook
// extension. The MetricsExtension records system-wide counters for event
// claims, completions, failures, exhaustions, and operator replays, plus
// an end-to-end processing latency histogram.
//
// For per-handler tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
