package transport

import "sync/atomic"

// MetricsSnapshot is a point-in-time view of adapter counters.
type MetricsSnapshot struct {
	Published  int64
	Delivered  int64
	Dropped    int64
	Reconnects int64
}

// Metrics tracks adapter activity with atomic counters.
type Metrics struct {
	published  atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordPublished(delta int) {
	m.published.Add(int64(delta))
}

func (m *Metrics) RecordDelivered(delta int) {
	m.delivered.Add(int64(delta))
}

func (m *Metrics) RecordDropped(delta int) {
	m.dropped.Add(int64(delta))
}

func (m *Metrics) RecordReconnect(delta int) {
	m.reconnects.Add(int64(delta))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Published:  m.published.Load(),
		Delivered:  m.delivered.Load(),
		Dropped:    m.dropped.Load(),
		Reconnects: m.reconnects.Load(),
	}
}
