package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/archstrap/archstrap/pkg/config"
	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
)

func newValidateCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load and validate the configuration, including the step selection.
Exits non-zero when the configuration cannot produce a run.

With --watch the file is revalidated on every save until interrupted,
useful while editing a config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := reportValid(settings); err != nil {
				return err
			}

			if !watch {
				return nil
			}
			if configPath == "" {
				return fmt.Errorf("--watch requires --config")
			}

			err = config.Watch(cmd.Context(), configPath, zerolog.Nop(), func(s *config.Settings) {
				if err := reportValid(s); err != nil {
					fmt.Printf("invalid: %v\n", err)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "revalidate on every config save")
	return cmd
}

// reportValid builds the registry from the settings and prints the outcome.
func reportValid(settings *config.Settings) error {
	cleanup := engine.NewCleanupManager()
	local := runner.NewLocalRunner(zerolog.Nop())
	deps := buildDeps(settings, cleanup, local, zerolog.Nop())
	reg, err := buildRegistry(settings, deps)
	if err != nil {
		return err
	}

	rc := settings.RunContext()
	fmt.Printf("configuration valid: %d steps selected", reg.Len())
	if !rc.HasUser() {
		fmt.Printf(" (no user configured, user steps will skip)")
	}
	fmt.Println()
	return nil
}
