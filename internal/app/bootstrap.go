package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"octobranch/internal/config"
	"octobranch/internal/featurebranch"
	"octobranch/internal/octopus"
	"octobranch/pkg/logging"
)

// Application bootstraps and runs one octobranch invocation
type Application struct {
	config       *Config
	orchestrator *featurebranch.Orchestrator
}

// NewApplication creates and initializes a new application instance
func NewApplication(cfg *Config) (*Application, error) {
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	output := cfg.LogOutput
	if output == nil {
		output = os.Stderr
	}
	logging.Init(appLogLevel, cfg.LogFormat, output, slog.String("run", cfg.RunID))

	if err := cfg.Run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	var settings config.Settings
	var err error
	if cfg.ConfigPath != "" {
		settings, err = config.LoadSettingsFromPath(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from path: %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load configuration from path %s: %w", cfg.ConfigPath, err)
		}
		logging.Debug("Bootstrap", "Loaded configuration from custom path: %s", cfg.ConfigPath)
	} else {
		settings, err = config.LoadSettings()
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration")
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		logging.Debug("Bootstrap", "Loaded configuration using layered approach")
	}
	cfg.Settings = &settings

	client := octopus.NewClient(cfg.Run.ServerURL, cfg.Run.APIKey,
		octopus.WithPageSize(settings.Client.PageSize),
		octopus.WithTimeout(settings.Client.Timeout),
	)

	return &Application{
		config:       cfg,
		orchestrator: featurebranch.New(cfg.Run, settings, client),
	}, nil
}

// Run executes the requested action
func (a *Application) Run(ctx context.Context) error {
	logging.Debug("Bootstrap", "Running %s for branch %s in space %s", a.config.Run.Action, a.config.Run.Branch, a.config.Run.Space)
	if err := a.orchestrator.Run(ctx); err != nil {
		logging.Error("Bootstrap", err, "Failed to %s feature branch %s", a.config.Run.Action, a.config.Run.Branch)
		return err
	}
	return nil
}
