// Monitoring configuration - operator logging settings.
//
// DESIGN: Logging (zerolog) is for operators. Payload captures are configured
// separately in DebugLoggingConfig because they are artifacts, not log lines.
package config

import "fmt"

// MonitoringConfig contains logging settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console, auto
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path
}

// Validate checks the logging settings. Empty values are allowed and fall
// back to the logger defaults.
func (m MonitoringConfig) Validate() error {
	switch m.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid monitoring.log_level: %q", m.LogLevel)
	}
	switch m.LogFormat {
	case "", "json", "console", "auto":
	default:
		return fmt.Errorf("invalid monitoring.log_format: %q (must be json, console or auto)", m.LogFormat)
	}
	return nil
}
