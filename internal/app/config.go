package app

import (
	"io"

	"octobranch/internal/config"
	"octobranch/pkg/logging"
)

// Config holds the application configuration
type Config struct {
	// Inputs of this run, taken from flags
	Run config.Run

	// Debug settings
	Debug     bool
	LogFormat logging.Format
	LogOutput io.Writer // defaults to stderr

	// Single directory to load config.yaml from instead of the layered lookup
	ConfigPath string

	// RunID tags every log entry of this invocation. Generated when empty.
	RunID string

	// File-based settings, filled in by NewApplication
	Settings *config.Settings
}

// NewConfig creates a new application configuration
func NewConfig(run config.Run, debug bool, format logging.Format, configPath string) *Config {
	return &Config{
		Run:        run,
		Debug:      debug,
		LogFormat:  format,
		ConfigPath: configPath,
	}
}
