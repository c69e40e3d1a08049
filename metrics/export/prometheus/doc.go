// Package prometheus provides Prometheus collectors for authsession metrics.
//
// [NewPrometheusExporter] accepts an [authsession.Client] and exposes an
// [http.Handler] that renders all authsession counters and histograms in
// Prometheus text exposition format. Counter names are prefixed
// authsession_*_total; the single histogram is
// authsession_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate client state.
package prometheus
