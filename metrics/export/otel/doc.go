// Package otel publishes marketauth engine metrics through an OpenTelemetry
// meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter
// and an Int64ObservableGauge per latency bucket. One callback reads
// [marketauth.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
