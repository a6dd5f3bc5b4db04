package otel

import (
	"context"
	"errors"
	"fmt"

	wardAuth "github.com/MrEthical07/wardAuth"
	"github.com/MrEthical07/wardAuth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() wardAuth.MetricsSnapshot
	AuditDropped() uint64
	AuditFailed() uint64
}

// gauge pairs an instrument with the function that reads its current value
// from a snapshot.
type gauge struct {
	instrument metric.Int64Observable
	read       func(wardAuth.MetricsSnapshot) uint64
}

// OTelExporter publishes engine metrics through a Meter until Close.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	gauges       []gauge
}

// NewOTelExporter registers instruments for engine on meter.
func NewOTelExporter(meter metric.Meter, engine *wardAuth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments reading from any metrics source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	if err := e.addCounters(meter); err != nil {
		return nil, err
	}
	if err := e.addHistograms(meter); err != nil {
		return nil, err
	}
	if err := e.addAuditCounters(meter); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, len(e.gauges))
	for i, g := range e.gauges {
		observables[i] = g.instrument
	}
	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *OTelExporter) addCounters(meter metric.Meter) error {
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		id := def.ID
		e.gauges = append(e.gauges, gauge{ins, func(s wardAuth.MetricsSnapshot) uint64 { return s.Counters[id] }})
	}
	return nil
}

// addHistograms exposes each histogram as cumulative bucket gauges plus a count.
func (e *OTelExporter) addHistograms(meter metric.Meter) error {
	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			bucket := i
			e.gauges = append(e.gauges, gauge{ins, func(s wardAuth.MetricsSnapshot) uint64 {
				return cumulative(s, id)[bucket]
			}})
		}

		name := def.Name + "_count"
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return fmt.Errorf("create histogram count gauge %s: %w", name, err)
		}
		e.gauges = append(e.gauges, gauge{ins, func(s wardAuth.MetricsSnapshot) uint64 {
			c := cumulative(s, id)
			return c[len(c)-1]
		}})
	}
	return nil
}

func (e *OTelExporter) addAuditCounters(meter metric.Meter) error {
	audit := []struct {
		name, help string
		read       func() uint64
	}{
		{internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, e.source.AuditDropped},
		{internaldefs.AuditFailedName, internaldefs.AuditFailedHelp, e.source.AuditFailed},
	}
	for _, a := range audit {
		ins, err := meter.Int64ObservableCounter(a.name, metric.WithDescription(a.help))
		if err != nil {
			return fmt.Errorf("create observable counter %s: %w", a.name, err)
		}
		read := a.read
		e.gauges = append(e.gauges, gauge{ins, func(wardAuth.MetricsSnapshot) uint64 { return read() }})
	}
	return nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, g := range e.gauges {
		o.ObserveInt64(g.instrument, int64(g.read(snapshot)))
	}
	return nil
}

func cumulative(s wardAuth.MetricsSnapshot, id wardAuth.MetricID) [8]uint64 {
	return internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(s.Histograms[id]))
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
