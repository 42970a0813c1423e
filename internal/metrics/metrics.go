// Package metrics provides the Meter/Gauge instrumentation surface consumed
// by the engine, mirroring the shape of go-ethereum's metrics.Meter and
// metrics.Gauge so any metrics backend (or none) can be injected at
// construction time, the same way core/rawdb/freezer_table.go takes
// readMeter/writeMeter/sizeGauge parameters.
package metrics

import "sync/atomic"

// Meter tracks a monotonically increasing count of events, e.g. bytes
// written or keys extracted.
type Meter interface {
	Mark(n int64)
	Count() int64
}

// Gauge tracks a value that can move up or down, e.g. a store's total size
// on disk.
type Gauge interface {
	Inc(n int64)
	Dec(n int64)
	Update(v int64)
	Value() int64
}

// NilMeter discards every mark; Count always reads 0.
type NilMeter struct{}

func (NilMeter) Mark(int64)   {}
func (NilMeter) Count() int64 { return 0 }

// NilGauge discards every update; Value always reads 0.
type NilGauge struct{}

func (NilGauge) Inc(int64)    {}
func (NilGauge) Dec(int64)    {}
func (NilGauge) Update(int64) {}
func (NilGauge) Value() int64 { return 0 }

// StandardMeter is an atomic-counter backed Meter, for callers that want
// real numbers without pulling in an external metrics registry.
type StandardMeter struct{ count atomic.Int64 }

func NewStandardMeter() *StandardMeter { return &StandardMeter{} }

func (m *StandardMeter) Mark(n int64) { m.count.Add(n) }
func (m *StandardMeter) Count() int64 { return m.count.Load() }

// StandardGauge is an atomic-counter backed Gauge.
type StandardGauge struct{ value atomic.Int64 }

func NewStandardGauge() *StandardGauge { return &StandardGauge{} }

func (g *StandardGauge) Inc(n int64)    { g.value.Add(n) }
func (g *StandardGauge) Dec(n int64)    { g.value.Add(-n) }
func (g *StandardGauge) Update(v int64) { g.value.Store(v) }
func (g *StandardGauge) Value() int64   { return g.value.Load() }
