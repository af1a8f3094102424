package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/octobranch"
	projectConfigDir = ".octobranch"
	configFileName   = "config.yaml"
)

// LoadSettings loads settings by layering default, user, and project files.
func LoadSettings() (Settings, error) {
	settings := GetDefaultSettings()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// user config is optional
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else {
		if _, err := os.Stat(userConfigPath); !os.IsNotExist(err) {
			userSettings, err := loadSettingsFromFile(userConfigPath)
			if err != nil {
				return Settings{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
			}
			settings = mergeSettings(settings, userSettings)
		}
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else {
		if _, err := os.Stat(projectConfigPath); !os.IsNotExist(err) {
			projectSettings, err := loadSettingsFromFile(projectConfigPath)
			if err != nil {
				return Settings{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
			}
			settings = mergeSettings(settings, projectSettings)
		}
	}

	return settings, nil
}

// LoadSettingsFromPath loads config.yaml from a single directory on top of the defaults.
func LoadSettingsFromPath(dir string) (Settings, error) {
	settings := GetDefaultSettings()
	path := filepath.Join(dir, configFileName)
	if _, err := os.Stat(path); err != nil {
		return Settings{}, fmt.Errorf("config file %s: %w", path, err)
	}
	fileSettings, err := loadSettingsFromFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	return mergeSettings(settings, fileSettings), nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadSettingsFromFile loads Settings from a YAML file after expanding environment variables.
func loadSettingsFromFile(filePath string) (Settings, error) {
	var settings Settings
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Settings{}, err
	}
	err = yaml.Unmarshal([]byte(expandEnv(string(data))), &settings)
	if err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// expandEnv replaces ${VAR} and ${VAR:-default}.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

// mergeSettings merges 'overlay' settings into 'base'. Zero values in overlay keep the base value.
func mergeSettings(base, overlay Settings) Settings {
	merged := base

	if overlay.ProtectedBranches != nil {
		merged.ProtectedBranches = append([]string(nil), overlay.ProtectedBranches...)
	}

	if overlay.Retry.MaxAttempts != 0 {
		merged.Retry.MaxAttempts = overlay.Retry.MaxAttempts
	}
	if overlay.Retry.MaxElapsed != 0 {
		merged.Retry.MaxElapsed = overlay.Retry.MaxElapsed
	}
	if overlay.Retry.Backoff != 0 {
		merged.Retry.Backoff = overlay.Retry.Backoff
	}

	if overlay.Polling.Interval != 0 {
		merged.Polling.Interval = overlay.Polling.Interval
	}
	if overlay.Polling.MaxPolls != 0 {
		merged.Polling.MaxPolls = overlay.Polling.MaxPolls
	}

	if overlay.Client.PageSize != 0 {
		merged.Client.PageSize = overlay.Client.PageSize
	}
	if overlay.Client.Timeout != 0 {
		merged.Client.Timeout = overlay.Client.Timeout
	}

	return merged
}
