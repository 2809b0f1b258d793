package config

import (
	"fmt"
	"sync/atomic"
)

// current is the process-wide configuration. Commands store it once loaded;
// the watcher swaps it on reload.
var current atomic.Pointer[Config]

// GetConfig returns the current configuration, or nil before SetConfig.
// Callers must treat the returned value as read-only: a reload replaces the
// pointer rather than mutating it.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig replaces the current configuration.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// MustGetConfig is GetConfig for code that only runs after startup.
func MustGetConfig() *Config {
	cfg := current.Load()
	if cfg == nil {
		panic("config: no configuration loaded")
	}
	return cfg
}

// ReloadConfig re-reads path with environment overrides. On any error the
// current configuration is kept.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	current.Store(cfg)
	return nil
}
