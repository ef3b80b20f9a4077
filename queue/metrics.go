package queue

import "sync/atomic"

// MetricsSnapshot is a point-in-time view of queue counters.
type MetricsSnapshot struct {
	Enqueued     int64
	Delivered    int64
	Retried      int64
	DeadLettered int64
	Rejected     int64
}

// Metrics tracks queue activity with atomic counters.
type Metrics struct {
	enqueued     atomic.Int64
	delivered    atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
	rejected     atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordEnqueued(delta int) {
	m.enqueued.Add(int64(delta))
}

func (m *Metrics) RecordDelivered(delta int) {
	m.delivered.Add(int64(delta))
}

func (m *Metrics) RecordRetried(delta int) {
	m.retried.Add(int64(delta))
}

func (m *Metrics) RecordDeadLettered(delta int) {
	m.deadLettered.Add(int64(delta))
}

func (m *Metrics) RecordRejected(delta int) {
	m.rejected.Add(int64(delta))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Enqueued:     m.enqueued.Load(),
		Delivered:    m.delivered.Load(),
		Retried:      m.retried.Load(),
		DeadLettered: m.deadLettered.Load(),
		Rejected:     m.rejected.Load(),
	}
}
