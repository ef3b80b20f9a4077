package queue

import (
	"context"

	"github.com/agentfabric/relay/messaging"
	"github.com/agentfabric/relay/retry"
	"github.com/agentfabric/relay/transport"
)

// Names of the two standing queues an agent runtime drives.
const (
	MessageQueueName  = "messages"
	ResponseQueueName = "responses"
)

// MessageHandler consumes an inbound message.
type MessageHandler func(ctx context.Context, msg *messaging.Message) error

// Publisher sends a message over a channel. *transport.Adapter satisfies
// it.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg *messaging.Message) error
}

// NewMessageQueue returns a processor that drains the inbound message
// queue into the given handler.
func NewMessageQueue(m *Manager, policy retry.Policy, handler MessageHandler) *Processor {
	return NewProcessor(m, MessageQueueName, policy, func(ctx context.Context, item *Item) error {
		return handler(ctx, item.Payload)
	})
}

// NewResponseQueue returns a processor that drains the outbound response
// queue, publishing each message to its target's channel. A "*" target
// goes to the broadcast channel.
func NewResponseQueue(m *Manager, policy retry.Policy, pub Publisher) *Processor {
	return NewProcessor(m, ResponseQueueName, policy, func(ctx context.Context, item *Item) error {
		return pub.Publish(ctx, transport.ChannelFor(item.Payload.Target), item.Payload)
	})
}

// IngressHandler returns a transport handler that parks every inbound
// message on the message queue at its own priority. A full queue drops
// the message; the manager counts the rejection.
func IngressHandler(m *Manager) transport.Handler {
	return func(ctx context.Context, msg *messaging.Message) {
		_, _ = m.Enqueue(MessageQueueName, msg, msg.Priority())
	}
}

// Outbox feeds the outbound response queue. Messages handed to Send leave
// through the response queue's processor with its retry and dead-letter
// handling instead of a direct publish.
type Outbox struct {
	manager *Manager
}

func NewOutbox(m *Manager) *Outbox {
	return &Outbox{manager: m}
}

func (o *Outbox) Send(ctx context.Context, msg *messaging.Message) error {
	_, err := o.manager.Enqueue(ResponseQueueName, msg, msg.Priority())
	return err
}
