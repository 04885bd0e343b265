// Package prometheus exposes goSession metrics through
// github.com/prometheus/client_golang.
//
// [NewCollector] wraps anything with a MetricsSnapshot method (a
// *goSession.Manager) as a prometheus.Collector. Counter names are prefixed
// gosession_*_total; the single histogram is
// gosession_request_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry; callers register
//     the Collector or mount Handler.
//   - Mutate manager state.
package prometheus
