package config

// DebugLoggingConfig controls on-disk capture of upstream payloads.
// An empty OutputDir means "not set": the capture writer falls back to the
// process data directory.
type DebugLoggingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}
