// Package config provides configuration structures for the messaging and
// orchestration components. Configuration only exists during initialization:
// each component converts its config into runtime state and never reads it
// again. All types support layered merging, where values loaded from a file
// merge over Default* values: strings merge when non-empty, numbers and
// durations when greater than zero, nested configs recursively.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level file-loadable configuration, one section per
// component.
type Config struct {
	Transport TransportConfig `json:"transport" yaml:"transport"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Sync      SyncConfig      `json:"sync" yaml:"sync"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
}

// Default returns a Config with every section at its defaults.
func Default() *Config {
	return &Config{
		Transport: DefaultTransportConfig(),
		Queue:     DefaultQueueConfig(),
		Sync:      DefaultSyncConfig(),
		Engine:    DefaultEngineConfig(),
	}
}

func (c *Config) Merge(source *Config) {
	c.Transport.Merge(&source.Transport)
	c.Queue.Merge(&source.Queue)
	c.Sync.Merge(&source.Sync)
	c.Engine.Merge(&source.Engine)
}

// Load reads a YAML (or JSON, which YAML subsumes) config file and merges
// it over defaults. A missing path returns pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Merge(&loaded)
	return cfg, nil
}
