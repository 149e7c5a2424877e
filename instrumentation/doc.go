// Package instrumentation provides OpenTelemetry metrics and traces for the
// OAuth client library.
//
// Instrumentation is optional and disabled by default: when Config.Enabled
// is false (or no providers are supplied) all instruments are backed by
// no-op providers with zero overhead. Deployments that want telemetry pass
// their own metric.MeterProvider and trace.TracerProvider, typically
// created from the OpenTelemetry SDK with an OTLP or Prometheus exporter.
//
// Metric instruments cover the token lifecycle (exchanges, refreshes,
// revocations), introspection outcomes split by cache/live source, upstream
// request latency, and cache hit rates.
package instrumentation
