package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentfabric/relay/config"
	"github.com/agentfabric/relay/messaging"
	"github.com/agentfabric/relay/observability"
	"github.com/agentfabric/relay/retry"
)

// State is the adapter's connection state. Transitions are driven by
// connect results and broker errors, never by nested timers, so tests can
// walk the machine deterministically.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackingOff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backing-off"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotConnected is returned by Publish while the adapter has no live
// broker connection.
var ErrNotConnected = errors.New("transport not connected")

// Handler consumes a validated inbound message. Handlers run on the
// subscription pump goroutine; panics are recovered and logged so one bad
// handler cannot kill the pump.
type Handler func(ctx context.Context, msg *messaging.Message)

// Adapter wraps a Broker with reconnection and ingress validation. It is
// stateless apart from connection state and the subscription registry.
// Publish performs no retries; callers needing delivery guarantees go
// through the queue package.
type Adapter struct {
	name     string
	dial     Dialer
	policy   retry.Policy
	observer observability.Observer
	metrics  *Metrics

	mu           sync.Mutex
	state        State
	broker       Broker
	handlers     map[string]Handler
	subs         map[string]Subscription
	reconnecting bool
	closed       bool
	fatal        func(error)

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Adapter in the disconnected state. Call Connect to dial
// the broker.
func New(ctx context.Context, cfg config.TransportConfig, dial Dialer) (*Adapter, error) {
	observer, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve observer: %w", err)
	}

	adapterCtx, cancel := context.WithCancel(ctx)
	return &Adapter{
		name:     cfg.Name,
		dial:     dial,
		policy:   cfg.ReconnectPolicy(),
		observer: observer,
		metrics:  NewMetrics(),
		state:    StateDisconnected,
		handlers: make(map[string]Handler),
		subs:     make(map[string]Subscription),
		ctx:      adapterCtx,
		cancel:   cancel,
	}, nil
}

// OnFatal registers a callback invoked when reconnection attempts are
// exhausted. This is how the adapter's owner observes loss of liveness.
func (a *Adapter) OnFatal(fn func(error)) {
	a.mu.Lock()
	a.fatal = fn
	a.mu.Unlock()
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Metrics returns a snapshot of adapter counters.
func (a *Adapter) Metrics() MetricsSnapshot {
	return a.metrics.Snapshot()
}

// Connect dials the broker, applying the reconnect backoff policy. On
// success all registered subscriptions are established. On exhaustion the
// adapter is left disconnected and the attempts error is returned.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.connect(ctx)
}

// Publish encodes and forwards a message to the broker. It does not retry:
// a failed publish surfaces immediately so the delivery queue can apply
// its own backoff policy.
func (a *Adapter) Publish(ctx context.Context, channel string, msg *messaging.Message) error {
	a.mu.Lock()
	broker := a.broker
	state := a.state
	a.mu.Unlock()

	if state != StateConnected || broker == nil {
		return fmt.Errorf("publish to %s: %w", channel, ErrNotConnected)
	}

	payload, err := messaging.Encode(msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	if err := broker.Publish(ctx, channel, payload); err != nil {
		return err
	}
	a.metrics.RecordPublished(1)
	return nil
}

// Subscribe registers a handler for a channel. If the adapter is connected
// the broker subscription starts immediately; otherwise it is established
// on the next successful connect.
func (a *Adapter) Subscribe(channel string, handler Handler) error {
	a.mu.Lock()
	if _, exists := a.handlers[channel]; exists {
		a.mu.Unlock()
		return fmt.Errorf("channel already subscribed: %s", channel)
	}
	a.handlers[channel] = handler
	broker := a.broker
	connected := a.state == StateConnected
	a.mu.Unlock()

	if !connected || broker == nil {
		return nil
	}
	return a.startSubscription(broker, channel)
}

// Unsubscribe removes the handler for a channel and cancels its broker
// subscription.
func (a *Adapter) Unsubscribe(channel string) error {
	a.mu.Lock()
	if _, exists := a.handlers[channel]; !exists {
		a.mu.Unlock()
		return fmt.Errorf("channel not subscribed: %s", channel)
	}
	delete(a.handlers, channel)
	sub := a.subs[channel]
	delete(a.subs, channel)
	a.mu.Unlock()

	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

// Close tears down the connection and all subscriptions. The adapter
// cannot be reused after Close.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.state = StateDisconnected
	broker := a.broker
	a.broker = nil
	subs := a.subs
	a.subs = make(map[string]Subscription)
	a.mu.Unlock()

	a.cancel()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if broker != nil {
		return broker.Close()
	}
	return nil
}

// connect runs the backoff loop through the state machine:
// connecting → connected on success, connecting → backing-off → connecting
// on failure, disconnected once attempts are exhausted.
func (a *Adapter) connect(ctx context.Context) error {
	maxAttempts := a.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			a.setState(StateDisconnected, EventDisconnected, observability.LevelWarning, map[string]any{"error": err.Error()})
			return fmt.Errorf("connect cancelled: %w", err)
		}

		a.setState(StateConnecting, EventConnecting, observability.LevelInfo, map[string]any{"attempt": attempt})

		broker, err := a.dial(ctx)
		if err == nil {
			if resubErr := a.adopt(broker); resubErr != nil {
				broker.Close()
				err = resubErr
			} else {
				return nil
			}
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		delay := retry.NextDelay(a.policy, attempt)
		a.setState(StateBackingOff, EventBackoff, observability.LevelWarning, map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			a.setState(StateDisconnected, EventDisconnected, observability.LevelWarning, map[string]any{"error": ctx.Err().Error()})
			return fmt.Errorf("connect cancelled: %w", ctx.Err())
		}
	}

	a.setState(StateDisconnected, EventDisconnected, observability.LevelError, map[string]any{
		"attempts": maxAttempts,
		"error":    lastErr.Error(),
	})
	return &retry.AttemptsError{Attempts: maxAttempts, Err: lastErr}
}

// adopt installs a freshly dialed broker and re-establishes every
// registered subscription.
func (a *Adapter) adopt(broker Broker) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		broker.Close()
		return ErrBrokerClosed
	}
	a.broker = broker
	a.state = StateConnected
	channels := make([]string, 0, len(a.handlers))
	for channel := range a.handlers {
		channels = append(channels, channel)
	}
	a.mu.Unlock()

	for _, channel := range channels {
		if err := a.startSubscription(broker, channel); err != nil {
			return fmt.Errorf("resubscribe %s: %w", channel, err)
		}
	}

	a.observer.OnEvent(a.ctx, observability.Event{
		Type:      EventConnected,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "transport.Adapter",
		Data:      map[string]any{"name": a.name, "channels": len(channels)},
	})
	return nil
}

func (a *Adapter) startSubscription(broker Broker, channel string) error {
	sub, err := broker.Subscribe(a.ctx, channel)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.subs[channel] = sub
	a.mu.Unlock()

	go a.pump(channel, sub)
	return nil
}

// pump delivers payloads for one subscription until its channel closes.
// A close that was not caused by Unsubscribe or adapter shutdown means the
// connection died, which triggers the reconnect loop.
func (a *Adapter) pump(channel string, sub Subscription) {
	for payload := range sub.Payloads() {
		a.dispatch(channel, payload)
	}

	a.mu.Lock()
	lost := !a.closed && a.subs[channel] == sub
	if lost {
		delete(a.subs, channel)
	}
	a.mu.Unlock()

	if lost {
		a.handleConnectionLoss()
	}
}

// handleConnectionLoss runs the reconnect loop once, regardless of how many
// subscription pumps observed the failure.
func (a *Adapter) handleConnectionLoss() {
	a.mu.Lock()
	if a.reconnecting || a.closed {
		a.mu.Unlock()
		return
	}
	a.reconnecting = true
	broker := a.broker
	a.broker = nil
	for channel, sub := range a.subs {
		delete(a.subs, channel)
		go sub.Unsubscribe()
	}
	a.mu.Unlock()

	if broker != nil {
		broker.Close()
	}
	a.metrics.RecordReconnect(1)

	err := a.connect(a.ctx)

	a.mu.Lock()
	a.reconnecting = false
	fatal := a.fatal
	a.mu.Unlock()

	if err != nil && fatal != nil {
		fatal(err)
	}
}

func (a *Adapter) dispatch(channel string, payload []byte) {
	msg, err := messaging.Decode(payload)
	if err != nil {
		a.metrics.RecordDropped(1)
		a.observer.OnEvent(a.ctx, observability.Event{
			Type:      EventDropped,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "transport.Adapter",
			Data: map[string]any{
				"name":    a.name,
				"channel": channel,
				"error":   err.Error(),
			},
		})
		return
	}

	a.mu.Lock()
	handler := a.handlers[channel]
	a.mu.Unlock()
	if handler == nil {
		return
	}

	a.invoke(handler, msg)
	a.metrics.RecordDelivered(1)
}

func (a *Adapter) invoke(handler Handler, msg *messaging.Message) {
	defer func() {
		if r := recover(); r != nil {
			a.observer.OnEvent(a.ctx, observability.Event{
				Type:      EventDropped,
				Level:     observability.LevelError,
				Timestamp: time.Now(),
				Source:    "transport.Adapter",
				Data: map[string]any{
					"name":       a.name,
					"message_id": msg.ID,
					"panic":      fmt.Sprint(r),
				},
			})
		}
	}()
	handler(a.ctx, msg)
}

func (a *Adapter) setState(state State, event observability.EventType, level observability.Level, data map[string]any) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()

	if data == nil {
		data = map[string]any{}
	}
	data["name"] = a.name
	data["state"] = state.String()

	a.observer.OnEvent(a.ctx, observability.Event{
		Type:      event,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "transport.Adapter",
		Data:      data,
	})
}
