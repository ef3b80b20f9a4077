package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentfabric/relay/messaging"
)

// ErrRequestTimeout is returned when a request's reply does not arrive in
// time. Callers treat it as a retryable failure, not a crash.
var ErrRequestTimeout = errors.New("request timed out")

// Requester pairs published requests with their replies. It subscribes to
// the agent's unicast channel; inbound responses whose reply-to matches a
// pending request resolve that request, everything else is handed to the
// fallback handler.
type Requester struct {
	adapter  *Adapter
	agentID  string
	fallback Handler

	mu      sync.Mutex
	pending map[string]chan *messaging.Message
}

// NewRequester subscribes to the agent's unicast channel and returns a
// Requester for it. The fallback handler may be nil, in which case
// non-reply messages are ignored.
func NewRequester(adapter *Adapter, agentID string, fallback Handler) (*Requester, error) {
	r := NewQueuedRequester(adapter, agentID, fallback)
	if err := adapter.Subscribe(AgentChannel(agentID), func(ctx context.Context, msg *messaging.Message) {
		_ = r.Receive(ctx, msg)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// NewQueuedRequester returns a Requester that does not subscribe to the
// unicast channel itself. Inbound messages must be fed to Receive,
// typically by a message queue processor draining the channel's traffic.
func NewQueuedRequester(adapter *Adapter, agentID string, fallback Handler) *Requester {
	return &Requester{
		adapter:  adapter,
		agentID:  agentID,
		fallback: fallback,
		pending:  make(map[string]chan *messaging.Message),
	}
}

// Request publishes a request to the target agent and waits for the reply.
// Every request carries a caller-supplied timeout; exceeding it returns
// ErrRequestTimeout.
func (r *Requester) Request(ctx context.Context, target string, content any, timeout time.Duration) (*messaging.Message, error) {
	msg := messaging.NewRequest(r.agentID, target, content).Build()
	return r.Send(ctx, msg, timeout)
}

// Send publishes a prebuilt message that expects a correlated reply. The
// message's target must be set; the reply is matched by the message ID.
func (r *Requester) Send(ctx context.Context, msg *messaging.Message, timeout time.Duration) (*messaging.Message, error) {
	return r.SendVia(ctx, msg, timeout, func(ctx context.Context, msg *messaging.Message) error {
		return r.adapter.Publish(ctx, AgentChannel(msg.Target), msg)
	})
}

// SendVia is Send with the outbound publish delegated to the given
// function, so callers can route delivery through a queue while the reply
// correlation stays here. The wait starts as soon as send accepts the
// message.
func (r *Requester) SendVia(ctx context.Context, msg *messaging.Message, timeout time.Duration, send func(context.Context, *messaging.Message) error) (*messaging.Message, error) {
	target := msg.Target

	replyCh := make(chan *messaging.Message, 1)
	r.mu.Lock()
	r.pending[msg.ID] = replyCh
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, msg.ID)
		r.mu.Unlock()
	}()

	if err := send(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request to %s cancelled: %w", target, ctx.Err())
	case <-time.After(timeout):
		return nil, fmt.Errorf("request to %s after %v: %w", target, timeout, ErrRequestTimeout)
	}
}

// Reply publishes a response correlated to the given request.
func (r *Requester) Reply(ctx context.Context, request *messaging.Message, content any) error {
	reply := messaging.NewResponse(r.agentID, request.Source, request.ID, content).Build()
	return r.adapter.Publish(ctx, AgentChannel(request.Source), reply)
}

// Receive routes one inbound message: a reply resolves its pending
// request, everything else goes to the fallback handler. It always
// returns nil; the signature matches queue delivery handlers.
func (r *Requester) Receive(ctx context.Context, msg *messaging.Message) error {
	correlation := msg.ReplyTo
	if correlation == "" {
		correlation = msg.Metadata.CorrelationID
	}

	if correlation != "" {
		r.mu.Lock()
		replyCh, waiting := r.pending[correlation]
		if waiting {
			delete(r.pending, correlation)
		}
		r.mu.Unlock()

		if waiting {
			replyCh <- msg
			return nil
		}
	}

	if r.fallback != nil {
		r.fallback(ctx, msg)
	}
	return nil
}
