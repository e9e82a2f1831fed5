// Package config loads and validates the capture gateway configuration.
//
// DESIGN: Configuration comes from a YAML file. Required fields have no defaults
// so a deployment states explicitly where it forwards traffic and whether it
// captures payloads.
//
// FILES:
//   - config.go:        Root Config struct, Load(), Validate()
//   - debug_logging.go: Payload capture settings
//   - monitoring.go:    Logging settings
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the capture gateway.
type Config struct {
	Server       ServerConfig       `yaml:"server"`        // HTTP server settings
	Upstream     UpstreamConfig     `yaml:"upstream"`      // Where requests are forwarded
	DebugLogging DebugLoggingConfig `yaml:"debug_logging"` // Payload capture
	Monitoring   MonitoringConfig   `yaml:"monitoring"`    // Logging
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // Port to listen on
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Max time to read request
	WriteTimeout time.Duration `yaml:"write_timeout"` // Max time to write response (0 = unlimited, needed for long streams)
}

// UpstreamConfig describes the provider requests are forwarded to.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"` // e.g. https://api.anthropic.com
	Timeout time.Duration `yaml:"timeout"`  // Whole-exchange timeout (0 = none)
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands ${VAR} and ${VAR:-default}.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets a harness redirect captures without editing the file.
func (c *Config) applyEnvOverrides() {
	// SESSION_DEBUG_LOG_DIR sets the capture directory and turns capture on
	if dir := os.Getenv("SESSION_DEBUG_LOG_DIR"); dir != "" {
		c.DebugLogging.OutputDir = dir
		c.DebugLogging.Enabled = true
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream.base_url: %q", c.Upstream.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid upstream.base_url scheme: %q (must be http or https)", u.Scheme)
	}

	return c.Monitoring.Validate()
}
