package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight process counters for the ledger and venue client.
// Uses atomic operations for thread-safety; MetricsCollector exports them.
type Metrics struct {
	// Counters
	ordersPlaced        atomic.Uint64
	ordersCancelled     atomic.Uint64
	fillsRecorded       atomic.Uint64
	sharesFilled        atomic.Uint64
	errorsTotal         atomic.Uint64
	consistencyWarnings atomic.Uint64

	// Venue latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	position          atomic.Int64
	basis             atomic.Int64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordVenueCall records one venue round trip.
func (m *Metrics) RecordVenueCall(latency time.Duration) {
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordOrderPlaced records an order accepted by the venue.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordOrderCancelled records an order moved to closed by a cancel.
func (m *Metrics) RecordOrderCancelled() {
	m.ordersCancelled.Add(1)
}

// RecordFills records newly observed fills and their share count.
func (m *Metrics) RecordFills(count int, shares int64) {
	if count <= 0 {
		return
	}
	m.fillsRecorded.Add(uint64(count))
	if shares > 0 {
		m.sharesFilled.Add(uint64(shares))
	}
}

// RecordWarnings records consistency warnings.
func (m *Metrics) RecordWarnings(n int) {
	if n > 0 {
		m.consistencyWarnings.Add(uint64(n))
	}
}

// SetBook publishes the latest position and basis.
func (m *Metrics) SetBook(position, basis int64) {
	m.position.Store(position)
	m.basis.Store(basis)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersPlaced        uint64
	OrdersCancelled     uint64
	FillsRecorded       uint64
	SharesFilled        uint64
	ErrorsTotal         uint64
	ConsistencyWarnings uint64
	AvgLatencyNs        int64
	ActiveConnections   int32
	Position            int64
	Basis               int64
	Timestamp           time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		OrdersPlaced:        m.ordersPlaced.Load(),
		OrdersCancelled:     m.ordersCancelled.Load(),
		FillsRecorded:       m.fillsRecorded.Load(),
		SharesFilled:        m.sharesFilled.Load(),
		ErrorsTotal:         m.errorsTotal.Load(),
		ConsistencyWarnings: m.consistencyWarnings.Load(),
		AvgLatencyNs:        avgLatency,
		ActiveConnections:   m.activeConnections.Load(),
		Position:            m.position.Load(),
		Basis:               m.basis.Load(),
		Timestamp:           time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersPlaced.Store(0)
	m.ordersCancelled.Store(0)
	m.fillsRecorded.Store(0)
	m.sharesFilled.Store(0)
	m.errorsTotal.Store(0)
	m.consistencyWarnings.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.position.Store(0)
	m.basis.Store(0)
}
