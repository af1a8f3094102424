package config

import "time"

const (
	DefaultMaxAttempts  = 3
	DefaultMaxElapsed   = 60 * time.Second
	DefaultBackoff      = 400 * time.Millisecond
	DefaultPollInterval = 10 * time.Second
	DefaultPageSize     = 1000
	DefaultTimeout      = 30 * time.Second
)

// GetDefaultSettings returns the compiled-in settings.
func GetDefaultSettings() Settings {
	return Settings{
		ProtectedBranches: []string{"main", "master"},
		Retry: RetrySettings{
			MaxAttempts: DefaultMaxAttempts,
			MaxElapsed:  DefaultMaxElapsed,
			Backoff:     DefaultBackoff,
		},
		Polling: PollSettings{
			Interval: DefaultPollInterval,
		},
		Client: ClientConfig{
			PageSize: DefaultPageSize,
			Timeout:  DefaultTimeout,
		},
	}
}
