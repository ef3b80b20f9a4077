package queue

import (
	"context"
	"time"

	"github.com/agentfabric/relay/observability"
	"github.com/agentfabric/relay/retry"
)

// DeliverFunc attempts to deliver a queued item. A nil return discards the
// item; an error schedules redelivery.
type DeliverFunc func(ctx context.Context, item *Item) error

// Processor drains one named queue. Exactly one Run loop per queue keeps
// delivery ordered; dead-letter queues get no processor and only retain.
type Processor struct {
	name    string
	manager *Manager
	policy  retry.Policy
	deliver DeliverFunc
}

// NewProcessor creates a driver for the named queue. The policy's
// MaxAttempts is the per-item delivery budget; once spent, the item moves
// to the queue's dead-letter companion.
func NewProcessor(m *Manager, name string, policy retry.Policy, deliver DeliverFunc) *Processor {
	return &Processor{
		name:    name,
		manager: m,
		policy:  policy,
		deliver: deliver,
	}
}

// Run drains the queue until the context is canceled. It blocks; run it in
// its own goroutine. When the queue is empty it parks on the enqueue
// signal, and when everything queued is scheduled for later it sleeps
// until the earliest item becomes eligible.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, wait := p.manager.next(p.name, time.Now())
		if item != nil {
			p.process(ctx, item)
			continue
		}

		if wait <= 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.manager.wake(p.name):
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-p.manager.wake(p.name):
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (p *Processor) process(ctx context.Context, item *Item) {
	item.Attempts++

	err := p.deliver(ctx, item)
	if err == nil {
		p.manager.metrics.RecordDelivered(1)
		p.emit(ctx, EventDelivered, observability.LevelVerbose, map[string]any{
			"item_id":  item.ID,
			"attempts": item.Attempts,
		})
		return
	}

	if item.Attempts >= p.policy.MaxAttempts {
		p.manager.metrics.RecordDeadLettered(1)
		if dlErr := p.manager.deadLetter(item); dlErr != nil {
			p.emit(ctx, EventDropped, observability.LevelError, map[string]any{
				"item_id": item.ID,
				"error":   err.Error(),
			})
			return
		}
		p.emit(ctx, EventDeadLetter, observability.LevelWarning, map[string]any{
			"item_id":  item.ID,
			"attempts": item.Attempts,
			"error":    err.Error(),
		})
		return
	}

	delay := retry.NextDelay(p.policy, item.Attempts)
	item.NotBefore = time.Now().Add(delay)
	p.manager.requeue(item)
	p.manager.metrics.RecordRetried(1)
	p.emit(ctx, EventRetry, observability.LevelWarning, map[string]any{
		"item_id": item.ID,
		"attempt": item.Attempts,
		"delay":   delay.String(),
		"error":   err.Error(),
	})
}

func (p *Processor) emit(ctx context.Context, event observability.EventType, level observability.Level, data map[string]any) {
	p.manager.observer.OnEvent(ctx, observability.Event{
		Type:      event,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "queue:" + p.name,
		Data:      data,
	})
}
