// Package config holds engine configuration and its file/env loaders.
package config

import (
	"fmt"
	"time"

	"github.com/dshills/luaweave/internal/domain"
)

// Logging configures the engine logger.
type Logging struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `toml:"level" yaml:"level"`
}

// Domains configures isolation domain limits.
type Domains struct {
	// InstructionLimit is reserved, see domain.DefaultInstructionLimit.
	InstructionLimit int64 `toml:"instruction_limit" yaml:"instruction_limit"`

	// CallTimeout bounds each call into a domain. Zero disables it.
	CallTimeout time.Duration `toml:"call_timeout" yaml:"call_timeout"`
}

// Plugins configures plugin selection.
type Plugins struct {
	// Disabled lists plugin definition names that are dropped at engine
	// construction, before classification.
	Disabled []string `toml:"disabled" yaml:"disabled"`
}

// Config is the engine configuration.
type Config struct {
	Logging Logging `toml:"logging" yaml:"logging"`
	Domains Domains `toml:"domains" yaml:"domains"`
	Plugins Plugins `toml:"plugins" yaml:"plugins"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Logging: Logging{Level: "info"},
		Domains: Domains{
			InstructionLimit: domain.DefaultInstructionLimit,
			CallTimeout:      domain.DefaultCallTimeout,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q: %w", c.Logging.Level, ErrInvalidValue)
	}
	if c.Domains.InstructionLimit < 0 {
		return fmt.Errorf("domains.instruction_limit %d: %w", c.Domains.InstructionLimit, ErrInvalidValue)
	}
	if c.Domains.CallTimeout < 0 {
		return fmt.Errorf("domains.call_timeout %s: %w", c.Domains.CallTimeout, ErrInvalidValue)
	}
	return nil
}

// PluginDisabled reports whether the named plugin definition is disabled.
func (c *Config) PluginDisabled(name string) bool {
	for _, d := range c.Plugins.Disabled {
		if d == name {
			return true
		}
	}
	return false
}
