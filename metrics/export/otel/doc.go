// Package otel binds goSession counters and the request latency histogram to
// OpenTelemetry observable instruments.
//
// [NewExporter] registers an Int64ObservableCounter per counter and, per
// histogram, an Int64ObservableGauge of cumulative bucket counts labeled
// "le" plus a _count gauge. One callback reads
// [goSession.Manager.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate manager state.
package otel
