package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Loader errors.
var (
	// ErrUnknownFormat is returned for unsupported config file extensions.
	ErrUnknownFormat = errors.New("unknown config file format")

	// ErrInvalidValue is returned when a configuration value is out of range.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "WEAVE_"

// Load reads a configuration file, applies WEAVE_* environment overrides
// and validates the result. A missing file is not an error; defaults plus
// environment overrides are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := Parse(path, data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes data into cfg based on the file extension of path.
// TOML (.toml) and YAML (.yaml, .yml) are supported.
func Parse(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	return nil
}

// applyEnv overrides configuration from WEAVE_* environment variables.
// Note: Empty string values are treated as valid values, not as unset.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "INSTRUCTION_LIMIT"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Domains.InstructionLimit = n
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "CALL_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Domains.CallTimeout = d
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "PLUGINS_DISABLED"); ok {
		cfg.Plugins.Disabled = splitList(v)
	}
}

// splitList splits a comma-separated list, trimming blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
