package config

import (
	"time"

	"github.com/agentfabric/relay/retry"
)

// RetryConfig is the file-loadable shape of a retry.Policy. It appears
// wherever a component exposes its backoff knobs: transport reconnection,
// queue redelivery, and workflow step retries.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// InitialDelay is the wait before the first retry.
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay"`

	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`

	// MaxDelay caps backoff growth.
	MaxDelay Duration `json:"max_delay" yaml:"max_delay"`
}

// DefaultRetryConfig mirrors retry.DefaultPolicy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      Duration(100 * time.Millisecond),
		BackoffMultiplier: 2,
		MaxDelay:          Duration(30 * time.Second),
	}
}

// Policy converts the config into an executable retry.Policy.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       c.MaxAttempts,
		InitialDelay:      c.InitialDelay.Std(),
		BackoffMultiplier: c.BackoffMultiplier,
		MaxDelay:          c.MaxDelay.Std(),
	}
}

func (c *RetryConfig) Merge(source *RetryConfig) {
	if source.MaxAttempts > 0 {
		c.MaxAttempts = source.MaxAttempts
	}

	if source.InitialDelay > 0 {
		c.InitialDelay = source.InitialDelay
	}

	if source.BackoffMultiplier > 0 {
		c.BackoffMultiplier = source.BackoffMultiplier
	}

	if source.MaxDelay > 0 {
		c.MaxDelay = source.MaxDelay
	}
}
