package infra

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Cycle counters
	cyclesStarted   atomic.Uint64
	cyclesCompleted atomic.Uint64
	cyclesAborted   atomic.Uint64
	cyclesSkipped   atomic.Uint64

	// Leg counters
	ordersPlaced    atomic.Uint64
	buyFailures     atomic.Uint64
	sellFailures    atomic.Uint64
	sellExhausted   atomic.Uint64
	panicsRecovered atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	streamConnections atomic.Int32
	inFlight          atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// CycleStarted marks a cycle entering FetchingMarket.
func (m *Metrics) CycleStarted() {
	m.cyclesStarted.Add(1)
	m.inFlight.Add(1)
}

// CycleFinished records the terminal outcome and latency of a cycle.
func (m *Metrics) CycleFinished(aborted bool, latency time.Duration) {
	if aborted {
		m.cyclesAborted.Add(1)
	} else {
		m.cyclesCompleted.Add(1)
	}
	m.inFlight.Add(-1)
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// CycleSkipped records a tick dropped because the market was busy.
func (m *Metrics) CycleSkipped() {
	m.cyclesSkipped.Add(1)
}

// OrderPlaced records an order the venue accepted.
func (m *Metrics) OrderPlaced() {
	m.ordersPlaced.Add(1)
}

// BuyFailed records a failed buy leg.
func (m *Metrics) BuyFailed() {
	m.buyFailures.Add(1)
}

// SellFailed records one failed sell attempt.
func (m *Metrics) SellFailed() {
	m.sellFailures.Add(1)
}

// SellExhausted records a sell leg that gave up.
func (m *Metrics) SellExhausted() {
	m.sellExhausted.Add(1)
}

// PanicRecovered records a panic caught at the cycle boundary.
func (m *Metrics) PanicRecovered() {
	m.panicsRecovered.Add(1)
}

// IncrementConnections increments active stream connections by 1.
func (m *Metrics) IncrementConnections() {
	m.streamConnections.Add(1)
}

// DecrementConnections decrements active stream connections by 1.
func (m *Metrics) DecrementConnections() {
	m.streamConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CyclesStarted     uint64
	CyclesCompleted   uint64
	CyclesAborted     uint64
	CyclesSkipped     uint64
	OrdersPlaced      uint64
	BuyFailures       uint64
	SellFailures      uint64
	SellExhausted     uint64
	PanicsRecovered   uint64
	AvgCycleLatency   time.Duration
	StreamConnections int32
	InFlight          int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		CyclesStarted:     m.cyclesStarted.Load(),
		CyclesCompleted:   m.cyclesCompleted.Load(),
		CyclesAborted:     m.cyclesAborted.Load(),
		CyclesSkipped:     m.cyclesSkipped.Load(),
		OrdersPlaced:      m.ordersPlaced.Load(),
		BuyFailures:       m.buyFailures.Load(),
		SellFailures:      m.sellFailures.Load(),
		SellExhausted:     m.sellExhausted.Load(),
		PanicsRecovered:   m.panicsRecovered.Load(),
		AvgCycleLatency:   time.Duration(avgLatency),
		StreamConnections: m.streamConnections.Load(),
		InFlight:          m.inFlight.Load(),
		Timestamp:         time.Now(),
	}
}

// LogValue lets a snapshot be logged as a single slog group.
func (s MetricsSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("cycles_started", s.CyclesStarted),
		slog.Uint64("cycles_completed", s.CyclesCompleted),
		slog.Uint64("cycles_aborted", s.CyclesAborted),
		slog.Uint64("cycles_skipped", s.CyclesSkipped),
		slog.Uint64("orders_placed", s.OrdersPlaced),
		slog.Uint64("buy_failures", s.BuyFailures),
		slog.Uint64("sell_failures", s.SellFailures),
		slog.Uint64("sell_exhausted", s.SellExhausted),
		slog.Uint64("panics", s.PanicsRecovered),
		slog.Duration("avg_cycle_latency", s.AvgCycleLatency),
		slog.Int("stream_connections", int(s.StreamConnections)),
		slog.Int("in_flight", int(s.InFlight)),
	)
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.cyclesStarted.Store(0)
	m.cyclesCompleted.Store(0)
	m.cyclesAborted.Store(0)
	m.cyclesSkipped.Store(0)
	m.ordersPlaced.Store(0)
	m.buyFailures.Store(0)
	m.sellFailures.Store(0)
	m.sellExhausted.Store(0)
	m.panicsRecovered.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.streamConnections.Store(0)
	m.inFlight.Store(0)
}
