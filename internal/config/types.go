package config

import (
	"time"
)

// Settings is the top-level file-based configuration for octobranch.
type Settings struct {
	ProtectedBranches []string      `yaml:"protectedBranches,omitempty"`
	Retry             RetrySettings `yaml:"retry"`
	Polling           PollSettings  `yaml:"polling"`
	Client            ClientConfig  `yaml:"client"`
}

// RetrySettings bounds the retry policy wrapped around the create and delete workflows.
type RetrySettings struct {
	MaxAttempts int           `yaml:"maxAttempts,omitempty"`
	MaxElapsed  time.Duration `yaml:"maxElapsed,omitempty"`
	Backoff     time.Duration `yaml:"backoff,omitempty"`
}

// PollSettings controls the task cancellation poll loop run before teardown.
type PollSettings struct {
	Interval time.Duration `yaml:"interval,omitempty"`
	MaxPolls int           `yaml:"maxPolls,omitempty"` // 0 means unbounded
}

// ClientConfig tunes the Octopus API client.
type ClientConfig struct {
	PageSize int           `yaml:"pageSize,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// IsProtected reports whether branch is one of the trunk branches that must never be touched.
func (s Settings) IsProtected(branch string) bool {
	for _, b := range s.ProtectedBranches {
		if b == branch {
			return true
		}
	}
	return false
}
