package wal

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Meter is the observability capability the WAL reports through. It is
// deliberately tiny: a counter for simple tallies and an event sink for
// the three occurrences an operator cares about (segment roll, fsync,
// corruption truncation). Callers that don't want metrics pass NoopMeter.
type Meter interface {
	Counter(name string, value float64)
	SegmentRoll(SegmentRollEvent)
	Fsync(FsyncEvent)
	CorruptionTruncated(CorruptionTruncatedEvent)
}

// NoopMeter discards everything. It is the default when a Config leaves
// Meter unset.
type NoopMeter struct{}

func (NoopMeter) Counter(string, float64)                 {}
func (NoopMeter) SegmentRoll(SegmentRollEvent)             {}
func (NoopMeter) Fsync(FsyncEvent)                         {}
func (NoopMeter) CorruptionTruncated(CorruptionTruncatedEvent) {}

// OtelMeter implements Meter on top of go.opentelemetry.io/otel/metric,
// recording each event as an increment on a dedicated counter instrument
// plus, for events that carry a magnitude, a second counter that sums
// that magnitude. It owns no exporter: a caller that wants the counts
// shipped somewhere attaches a reader to the *sdkmetric.MeterProvider it
// passes in (or uses NewInProcessMeterProvider, the convenience
// in-process provider this file also builds).
type OtelMeter struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
}

// NewOtelMeter wraps an existing OTel meter, typically
// otel.GetMeterProvider().Meter("ledgerwal").
func NewOtelMeter(m metric.Meter) *OtelMeter {
	return &OtelMeter{meter: m, counters: make(map[string]metric.Float64Counter)}
}

// NewInProcessMeterProvider builds a MeterProvider with a manual reader,
// suitable for a process that wants to read its own counters (e.g. the
// `stat` subcommand of walctl) without standing up an OTLP collector.
func NewInProcessMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return provider, reader
}

func (m *OtelMeter) instrument(name string) metric.Float64Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c, err := m.meter.Float64Counter(name)
	if err != nil {
		// A Float64Counter only errors on an invalid instrument name; our
		// names are all static and valid, so this path is unreachable in
		// practice. Fall back to a shared "wal_fallback" counter rather
		// than panic.
		c, _ = m.meter.Float64Counter("wal_fallback")
	}
	m.counters[name] = c
	return c
}

func (m *OtelMeter) Counter(name string, value float64) {
	m.instrument(name).Add(context.Background(), value)
}

func (m *OtelMeter) SegmentRoll(ev SegmentRollEvent) {
	m.instrument("wal_segment_roll_total").Add(context.Background(), 1)
	m.instrument("wal_segment_roll_bytes").Add(context.Background(), float64(ev.SealedBytes))
}

func (m *OtelMeter) Fsync(ev FsyncEvent) {
	m.instrument("wal_fsync_total").Add(context.Background(), 1)
	m.instrument("wal_fsync_duration_ms_sum").Add(context.Background(), ev.DurationMillis)
}

func (m *OtelMeter) CorruptionTruncated(ev CorruptionTruncatedEvent) {
	m.instrument("wal_corruption_truncated_total").Add(context.Background(), 1)
	m.instrument("wal_corruption_truncated_bytes").Add(context.Background(), float64(ev.BytesTruncated))
}
