// Package prometheus renders wardAuth metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] exposes an [http.Handler] for the server's /metrics
// route. Counter names are prefixed wardauth_ and end in _total; the single
// histogram is wardauth_authenticate_latency_seconds. Nothing is registered in
// a global registry.
package prometheus
