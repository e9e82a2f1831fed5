// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by gateway/, capture/ and cmd/.
// Defined here ONCE to avoid duplication and circular imports.
package monitoring

import "github.com/compresr/capture-gateway/internal/config"

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console, auto
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// LoggerConfigFrom maps the monitoring section of the root config.
func LoggerConfigFrom(cfg config.MonitoringConfig) LoggerConfig {
	return LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	}
}
