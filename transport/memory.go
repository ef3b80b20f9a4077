package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrBrokerClosed is returned by operations on a closed broker.
var ErrBrokerClosed = errors.New("broker closed")

// MemoryBroker is an in-process Broker for tests and single-process
// deployments. Publish fans out to every subscriber of the channel;
// subscribers with full buffers miss the payload rather than blocking
// the publisher.
type MemoryBroker struct {
	mu         sync.RWMutex
	subs       map[string][]*memorySubscription
	bufferSize int
	closed     bool
}

// NewMemoryBroker creates a MemoryBroker with the given per-subscription
// buffer size (minimum 1).
func NewMemoryBroker(bufferSize int) *MemoryBroker {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &MemoryBroker{
		subs:       make(map[string][]*memorySubscription),
		bufferSize: bufferSize,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	targets := make([]*memorySubscription, len(b.subs[channel]))
	copy(targets, b.subs[channel])
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(payload)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	sub := &memorySubscription{
		broker:   b,
		channel:  channel,
		payloads: make(chan []byte, b.bufferSize),
	}
	b.subs[channel] = append(b.subs[channel], sub)
	return sub, nil
}

// Close closes every subscription's payload channel, which subscribers
// observe as a lost connection.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subs = make(map[string][]*memorySubscription)
	return nil
}

type memorySubscription struct {
	broker   *MemoryBroker
	channel  string
	payloads chan []byte

	mu     sync.Mutex
	closed bool
}

func (s *memorySubscription) Payloads() <-chan []byte {
	return s.payloads
}

func (s *memorySubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	subs := s.broker.subs[s.channel]
	for i, candidate := range subs {
		if candidate == s {
			s.broker.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.broker.mu.Unlock()

	s.close()
	return nil
}

func (s *memorySubscription) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.payloads <- payload:
	default:
	}
}

func (s *memorySubscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.payloads)
	}
}
