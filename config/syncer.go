package config

import "time"

// SyncConfig defines configuration for the state synchronizer.
type SyncConfig struct {
	// Interval is the background processor's tick period.
	Interval Duration `json:"interval" yaml:"interval"`

	// MaxRetries caps apply attempts per operation. An operation that
	// exhausts the cap is marked failed and retained for inspection;
	// later operations for the same key still proceed.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Observer specifies which observer implementation to use ("noop", "slog", etc.)
	Observer string `json:"observer" yaml:"observer"`
}

// DefaultSyncConfig returns a SyncConfig with sensible defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Interval:   Duration(time.Second),
		MaxRetries: 3,
		Observer:   "slog",
	}
}

func (c *SyncConfig) Merge(source *SyncConfig) {
	if source.Interval > 0 {
		c.Interval = source.Interval
	}

	if source.MaxRetries > 0 {
		c.MaxRetries = source.MaxRetries
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}
