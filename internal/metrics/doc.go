// Package metrics keeps the engine's counters and the authenticate latency
// histogram.
//
// Counters are padded atomic uint64 slots indexed by MetricID; the histogram
// has 8 fixed buckets. Writes never allocate or lock. Exporters under
// metrics/export read Snapshot values and never touch the slots directly.
package metrics
