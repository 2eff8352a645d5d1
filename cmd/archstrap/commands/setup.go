package commands

import (
	"github.com/rs/zerolog"

	"github.com/archstrap/archstrap/pkg/config"
	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
	"github.com/archstrap/archstrap/pkg/steps"
	"github.com/archstrap/archstrap/pkg/telemetry"
)

// telemetryConfig layers the settings over the telemetry defaults and
// validates the result.
func telemetryConfig(settings *config.Settings) (*telemetry.Config, error) {
	cfg := telemetry.DefaultConfig()
	if settings.Logging.Level != "" {
		cfg.Logging.Level = settings.Logging.Level
	}
	if settings.Logging.Format != "" {
		cfg.Logging.Format = settings.Logging.Format
	}
	if settings.Logging.Output != "" {
		cfg.Logging.Output = settings.Logging.Output
	}
	cfg.Logging.FilePath = settings.Logging.FilePath
	if verbose {
		cfg.Logging.Level = "debug"
	}

	cfg.Metrics.Enabled = settings.Metrics.Enabled
	if settings.Metrics.ListenAddress != "" {
		cfg.Metrics.ListenAddress = settings.Metrics.ListenAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the redacting logger from the settings. The user
// credential is registered as a secret up front so the very first event is
// already masked.
func newLogger(settings *config.Settings) (*telemetry.Logger, error) {
	cfg, err := telemetryConfig(settings)
	if err != nil {
		return nil, err
	}
	return telemetry.NewLogger(cfg.Logging, settings.RunContext().SensitiveValues()...)
}

// buildRegistry assembles the step registry from the settings, applying the
// only/skip narrowing.
func buildRegistry(settings *config.Settings, deps *steps.Deps) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	if err := reg.RegisterAll(steps.All(deps)...); err != nil {
		return nil, err
	}
	return narrowRegistry(reg, settings.Steps.Only, settings.Steps.Skip)
}

// narrowRegistry applies the only/skip step selection.
func narrowRegistry(reg *engine.Registry, only, skip []string) (*engine.Registry, error) {
	if len(only) > 0 {
		return reg.Select(only)
	}
	if len(skip) == 0 {
		return reg, nil
	}

	// Validate skip keys through Select so a typo fails loudly.
	if _, err := reg.Select(skip); err != nil {
		return nil, err
	}
	skipped := make(map[string]bool, len(skip))
	for _, k := range skip {
		skipped[k] = true
	}
	var keep []string
	for _, k := range reg.Keys() {
		if !skipped[k] {
			keep = append(keep, k)
		}
	}
	return reg.Select(keep)
}

// buildDeps wires the step collaborators.
func buildDeps(settings *config.Settings, cleanup *engine.CleanupManager, r runner.Runner, log zerolog.Logger) *steps.Deps {
	return &steps.Deps{
		Runner:           r,
		Cleanup:          cleanup,
		Log:              log,
		BasePackages:     settings.Packages.Base,
		OptionalPackages: settings.Packages.Optional,
		ProbeAddr:        settings.Network.ProbeAddr,
		ProbeTimeout:     settings.Network.ProbeTimeout.Std(),
	}
}
