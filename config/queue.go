package config

import "time"

// QueueConfig defines configuration for a delivery queue manager.
type QueueConfig struct {
	// MaxSize bounds each named queue's depth. Enqueue fails fast with a
	// queue-full error at this limit; the queue never blocks its caller.
	MaxSize int `json:"max_size" yaml:"max_size"`

	// Redelivery controls retry scheduling for failed deliveries.
	// MaxAttempts here is the retry budget: once an item has failed that
	// many delivery attempts it moves to the dead-letter queue.
	Redelivery RetryConfig `json:"redelivery" yaml:"redelivery"`

	// Observer specifies which observer implementation to use ("noop", "slog", etc.)
	Observer string `json:"observer" yaml:"observer"`
}

// DefaultQueueConfig returns a QueueConfig with sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxSize: 1000,
		Redelivery: RetryConfig{
			MaxAttempts:       3,
			InitialDelay:      Duration(100 * time.Millisecond),
			BackoffMultiplier: 2,
			MaxDelay:          Duration(30 * time.Second),
		},
		Observer: "slog",
	}
}

func (c *QueueConfig) Merge(source *QueueConfig) {
	if source.MaxSize > 0 {
		c.MaxSize = source.MaxSize
	}

	c.Redelivery.Merge(&source.Redelivery)

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}
