// Package prometheus exposes marketauth engine metrics through
// client_golang.
//
// [Collector] implements prometheus.Collector over
// [marketauth.Engine.MetricsSnapshot]; [Exporter] wraps it in a private
// registry and a promhttp handler. Counter names are prefixed
// marketauth_*_total and the single histogram is
// marketauth_session_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register anything in the global default registry.
//   - Mutate engine state.
package prometheus
