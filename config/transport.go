package config

import (
	"time"

	"github.com/agentfabric/relay/retry"
)

// TransportConfig defines configuration for a transport adapter instance.
type TransportConfig struct {
	// Name identifies the adapter for events and metrics.
	Name string `json:"name" yaml:"name"`

	// Observer specifies which observer implementation to use ("noop", "slog", etc.)
	Observer string `json:"observer" yaml:"observer"`

	// Reconnect controls the backoff applied to connection attempts.
	// Exhausting MaxAttempts surfaces a fatal connectivity error to the
	// adapter's owner instead of retrying forever.
	Reconnect RetryConfig `json:"reconnect" yaml:"reconnect"`
}

// DefaultTransportConfig returns a TransportConfig with sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Name:     "default",
		Observer: "slog",
		Reconnect: RetryConfig{
			MaxAttempts:       5,
			InitialDelay:      Duration(500 * time.Millisecond),
			BackoffMultiplier: 2,
			MaxDelay:          Duration(30 * time.Second),
		},
	}
}

// ReconnectPolicy converts the reconnect knobs into a retry.Policy.
func (c *TransportConfig) ReconnectPolicy() retry.Policy {
	return c.Reconnect.Policy()
}

func (c *TransportConfig) Merge(source *TransportConfig) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}

	c.Reconnect.Merge(&source.Reconnect)
}
