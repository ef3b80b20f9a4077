// Package queue provides named in-memory delivery queues with priority
// ordering, scheduled redelivery, and dead-lettering. A Manager owns the
// queues; a Processor drains one queue and hands items to a delivery
// function, re-enqueueing failures with exponential backoff until the
// attempt budget is spent and the item moves to the queue's dead-letter
// companion.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/relay/config"
	"github.com/agentfabric/relay/messaging"
	"github.com/agentfabric/relay/observability"
)

// ErrQueueFull is returned by Enqueue when the named queue is at capacity.
var ErrQueueFull = errors.New("queue is full")

// DeadSuffix is appended to a queue's name to form its dead-letter queue.
const DeadSuffix = ":dead"

// DeadName returns the dead-letter queue name for the given queue.
func DeadName(name string) string {
	return name + DeadSuffix
}

// Item is a queued delivery. Attempts and NotBefore are mutated only by
// the Processor driving the item's queue.
type Item struct {
	ID         string
	QueueName  string
	Priority   messaging.Priority
	Attempts   int
	EnqueuedAt time.Time
	NotBefore  time.Time
	Payload    *messaging.Message
}

// Manager owns a set of named queues. Each queue orders items by
// descending priority, FIFO within a priority band. All methods are safe
// for concurrent use.
type Manager struct {
	maxSize  int
	observer observability.Observer
	metrics  *Metrics

	mu      sync.Mutex
	queues  map[string][]*Item
	signals map[string]chan struct{}
}

// NewManager creates a Manager from the given configuration.
func NewManager(cfg config.QueueConfig) (*Manager, error) {
	observer, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return nil, err
	}

	return &Manager{
		maxSize:  cfg.MaxSize,
		observer: observer,
		metrics:  NewMetrics(),
		queues:   make(map[string][]*Item),
		signals:  make(map[string]chan struct{}),
	}, nil
}

// Metrics returns a snapshot of the manager's counters.
func (m *Manager) Metrics() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// Enqueue adds a message to the named queue. It fails with ErrQueueFull
// when the queue is at capacity; it never blocks the caller.
func (m *Manager) Enqueue(name string, msg *messaging.Message, priority messaging.Priority) (*Item, error) {
	item := &Item{
		ID:         uuid.Must(uuid.NewV7()).String(),
		QueueName:  name,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		Payload:    msg,
	}

	m.mu.Lock()
	if m.maxSize > 0 && len(m.queues[name]) >= m.maxSize {
		m.mu.Unlock()
		m.metrics.RecordRejected(1)
		return nil, ErrQueueFull
	}
	m.insertLocked(item)
	m.mu.Unlock()

	m.metrics.RecordEnqueued(1)
	return item, nil
}

// Dequeue removes and returns the head of the named queue, or nil when
// the queue is empty. It ignores NotBefore; scheduled ordering only
// matters to the Processor.
func (m *Manager) Dequeue(name string) *Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[name]
	if len(q) == 0 {
		return nil
	}
	m.queues[name] = q[1:]
	return q[0]
}

// Peek returns the head of the named queue without removing it.
func (m *Manager) Peek(name string) *Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[name]
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// Len returns the depth of the named queue.
func (m *Manager) Len(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[name])
}

// Clear discards all items in the named queue and returns how many were
// dropped.
func (m *Manager) Clear(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.queues[name])
	delete(m.queues, name)
	return n
}

// Names returns the names of all queues that currently hold items.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for name, q := range m.queues {
		if len(q) > 0 {
			names = append(names, name)
		}
	}
	return names
}

// insertLocked places an item after the last entry of equal or higher
// priority, preserving FIFO order within a band. Caller holds m.mu.
func (m *Manager) insertLocked(item *Item) {
	q := m.queues[item.QueueName]

	pos := len(q)
	for i := len(q) - 1; i >= 0; i-- {
		if q[i].Priority >= item.Priority {
			break
		}
		pos = i
	}

	q = append(q, nil)
	copy(q[pos+1:], q[pos:])
	q[pos] = item
	m.queues[item.QueueName] = q

	m.signalLocked(item.QueueName)
}

// requeue reinserts a failed item for a later attempt.
func (m *Manager) requeue(item *Item) {
	m.mu.Lock()
	m.insertLocked(item)
	m.mu.Unlock()
}

// deadLetter moves an item to its queue's dead-letter companion. Capacity
// still applies; an overflowing dead queue drops the item.
func (m *Manager) deadLetter(item *Item) error {
	item.QueueName = DeadName(item.QueueName)
	item.NotBefore = time.Time{}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSize > 0 && len(m.queues[item.QueueName]) >= m.maxSize {
		return ErrQueueFull
	}
	m.insertLocked(item)
	return nil
}

// next pops the first eligible item of the named queue. An item scheduled
// for later is skipped so it never blocks eligible items behind it; when
// every item is scheduled it returns the wait until the earliest becomes
// eligible, and when the queue is empty it returns a zero wait.
func (m *Manager) next(name string, now time.Time) (*Item, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[name]
	var wait time.Duration
	for i, item := range q {
		if item.NotBefore.After(now) {
			if d := item.NotBefore.Sub(now); wait == 0 || d < wait {
				wait = d
			}
			continue
		}
		m.queues[name] = append(q[:i:i], q[i+1:]...)
		return item, 0
	}
	return nil, wait
}

// wake returns the named queue's enqueue signal channel.
func (m *Manager) wake(name string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.signals[name]
	if !ok {
		ch = make(chan struct{}, 1)
		m.signals[name] = ch
	}
	return ch
}

// signalLocked nudges the queue's processor without blocking. Caller
// holds m.mu.
func (m *Manager) signalLocked(name string) {
	ch, ok := m.signals[name]
	if !ok {
		ch = make(chan struct{}, 1)
		m.signals[name] = ch
	}

	select {
	case ch <- struct{}{}:
	default:
	}
}
