// Package transport hides the external pub/sub broker behind a thin adapter.
// The adapter owns connection lifecycle and ingress validation; it never
// retries deliveries (that is the queue package's job) and holds no state
// beyond its connection and subscription registry.
package transport

import "context"

// Broker is the contract an external publish/subscribe service must satisfy.
// Implementations: RedisBroker (production) and MemoryBroker (in-process).
type Broker interface {
	// Publish sends a raw payload to every current subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers interest in a channel. The returned subscription's
	// payload channel is closed when the connection is lost or the broker
	// closes, which is how the adapter observes connection failure.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close tears down the broker connection and closes all subscriptions.
	Close() error
}

// Subscription is a live interest in one channel.
type Subscription interface {
	// Payloads yields raw inbound payloads. Closed on connection loss.
	Payloads() <-chan []byte

	// Unsubscribe cancels the subscription and closes Payloads.
	Unsubscribe() error
}

// Dialer establishes a broker connection. The adapter re-invokes it on
// every reconnect attempt, so implementations must return a fresh,
// connected broker each call.
type Dialer func(ctx context.Context) (Broker, error)

// Channel naming scheme shared by all components: one unicast channel per
// agent plus a single broadcast channel.
const BroadcastChannel = "broadcast"

// AgentChannel returns the unicast channel for an agent ID.
func AgentChannel(agentID string) string {
	return "agent:" + agentID
}

// ChannelFor maps a message target to a channel. The "*" target (and an
// empty one) means everyone, which is the shared broadcast channel.
func ChannelFor(target string) string {
	if target == "" || target == "*" {
		return BroadcastChannel
	}
	return AgentChannel(target)
}
