// Package internaldefs holds the metric names and bucket boundaries shared by
// the exporters, so the Prometheus and OTel outputs never drift apart.
package internaldefs
