// Package otel publishes wardAuth counters and the authenticate latency
// histogram through an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per histogram bucket. A single callback reads
// [wardAuth.Engine.MetricsSnapshot] on each collection cycle. The caller owns
// the MeterProvider.
package otel
