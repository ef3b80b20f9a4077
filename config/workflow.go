package config

import "time"

// EngineConfig defines configuration for the workflow execution engine.
type EngineConfig struct {
	// Observer specifies which observer implementation to use ("noop", "slog", etc.)
	Observer string `json:"observer" yaml:"observer"`

	// StepTimeout is the default per-step remote call timeout, applied
	// when a step does not carry its own.
	StepTimeout Duration `json:"step_timeout" yaml:"step_timeout"`

	// StepRetry is the default retry policy for steps that do not define
	// their own.
	StepRetry RetryConfig `json:"step_retry" yaml:"step_retry"`
}

// DefaultEngineConfig returns an EngineConfig with sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Observer:    "slog",
		StepTimeout: Duration(30 * time.Second),
		StepRetry: RetryConfig{
			MaxAttempts:       3,
			InitialDelay:      Duration(time.Second),
			BackoffMultiplier: 2,
			MaxDelay:          Duration(30 * time.Second),
		},
	}
}

func (c *EngineConfig) Merge(source *EngineConfig) {
	if source.Observer != "" {
		c.Observer = source.Observer
	}

	if source.StepTimeout > 0 {
		c.StepTimeout = source.StepTimeout
	}

	c.StepRetry.Merge(&source.StepRetry)
}
