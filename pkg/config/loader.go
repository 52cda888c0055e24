package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML file Load looks for inside the config directory.
const ConfigFileName = "querygate.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references in the raw YAML with the current
// environment. Unset variables expand to the empty string.
func expandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads querygate.yaml from configDir (if present), expands environment
// variables, merges user values over the built-in defaults, and validates the
// result. A missing file yields the defaults.
func Load(configDir string) (*Config, error) {
	cfg := Defaults()

	path := filepath.Join(configDir, ConfigFileName)
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Info("No config file found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		user := &Config{}
		dec := yaml.NewDecoder(bytes.NewReader(expandEnv(raw)))
		dec.KnownFields(true)
		if err := dec.Decode(user); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		// User values override defaults; zero values fall through.
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config: %w", err)
		}
		slog.Info("Configuration loaded", "path", path)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// validate rejects configurations that would misbehave at runtime.
func validate(c *Config) error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.Cache.ResultCap < 1 {
		return fmt.Errorf("cache.result_cap must be >= 1, got %d", c.Cache.ResultCap)
	}
	if c.Pool.Min < 0 || c.Pool.Max < 1 || c.Pool.Min > c.Pool.Max {
		return fmt.Errorf("pool min/max invalid: min=%d max=%d", c.Pool.Min, c.Pool.Max)
	}
	if c.Breaker.Threshold < 1 {
		return fmt.Errorf("breaker.threshold must be >= 1, got %d", c.Breaker.Threshold)
	}
	if _, ok := c.RoleLimits["viewer"]; !ok {
		return fmt.Errorf("role_limits must define the viewer fallback role")
	}
	for role, limits := range c.RoleLimits {
		if limits.MaxTables < 1 || limits.MaxJoins < 0 {
			return fmt.Errorf("role_limits.%s: max_tables must be >= 1 and max_joins >= 0", role)
		}
	}
	if c.PivotAttempts < 0 {
		return fmt.Errorf("pivot_attempts must be >= 0, got %d", c.PivotAttempts)
	}
	return nil
}
