package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/archstrap/archstrap/pkg/config"
	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
	"github.com/archstrap/archstrap/pkg/stores"
	"github.com/archstrap/archstrap/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		only        []string
		skip        []string
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Provision the host",
		Long: `Execute the provisioning steps against this host.

Steps run in batches ordered by their order value. Steps whose
prerequisites are missing (for example user steps without a configured
user) are skipped, already-satisfied steps are skipped, and transient
failures are retried with exponential backoff. A failed non-critical step
never stops the run; the final report shows what happened to every step.

The exit code reflects the run: 0 all succeeded, 1 some steps failed,
2 a critical step failed, 130 the run was cancelled.`,
		Example: `  # Full run with a config file
  archstrap run -c archstrap.yaml

  # Only the zsh environment steps
  archstrap run -c archstrap.yaml --only ohmyzsh,zshplugins,zshrc

  # Everything except the optional packages
  archstrap run -c archstrap.yaml --skip optpkgs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if len(only) > 0 {
				settings.Steps.Only = only
			}
			if len(skip) > 0 {
				settings.Steps.Skip = skip
			}
			if maxParallel > 0 {
				settings.Engine.MaxParallel = maxParallel
			}
			if err := settings.Validate(); err != nil {
				return err
			}

			tcfg, err := telemetryConfig(settings)
			if err != nil {
				return err
			}
			logger, err := newLogger(settings)
			if err != nil {
				return err
			}
			defer logger.Close()
			clog := logger.NewComponentLogger("cli")
			zlog := logger.Zerolog()

			metrics, err := telemetry.NewMetrics(tcfg.Metrics)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if tcfg.Metrics.Enabled {
				clog.Infof("metrics endpoint listening on %s", tcfg.Metrics.ListenAddress)
				go func() {
					if err := metrics.Serve(ctx); err != nil {
						clog.Warnf("metrics endpoint failed: %v", err)
					}
				}()
			}

			cleanup := engine.NewCleanupManager()
			local := runner.NewLocalRunner(zlog)
			deps := buildDeps(settings, cleanup, local, zlog)
			reg, err := buildRegistry(settings, deps)
			if err != nil {
				return err
			}

			rc := settings.RunContext()
			if err := os.MkdirAll(rc.WorkDir, 0755); err != nil {
				return fmt.Errorf("cannot create work directory: %w", err)
			}

			guard := engine.NewLockGuard(settings.Engine.LockPath, zlog).
				WithRecoveryHook(metrics.LockRecovered)
			sched := engine.NewScheduler(reg, guard, zlog,
				engine.WithMaxParallel(settings.Engine.MaxParallel),
				engine.WithRetryPolicy(settings.RetryPolicy()),
				engine.WithGracePeriod(settings.Engine.GracePeriod.Std()),
				engine.WithObserver(metrics),
				engine.WithCleanup(cleanup),
			)

			summary := sched.Run(ctx, rc)

			saveHistory(settings, clog, summary)

			if jsonOutput {
				if err := engine.WriteJSON(os.Stdout, summary); err != nil {
					return err
				}
			} else {
				if err := engine.WriteReport(os.Stdout, summary); err != nil {
					return err
				}
			}

			if code := summary.Status.ExitCode(); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "run only these step keys")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "skip these step keys")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "max parallel steps per batch")

	return cmd
}

// saveHistory persists the run, best effort. A cancelled run context must
// not prevent recording, so the store gets its own short deadline.
func saveHistory(settings *config.Settings, logger *telemetry.Logger, summary *engine.RunSummary) {
	store, err := stores.NewSQLiteStore(settings.Engine.StatePath)
	if err != nil {
		logger.Warnf("run history unavailable: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Init(ctx); err != nil {
		logger.Warnf("run history unavailable: %v", err)
		return
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Warnf("run history migration failed: %v", err)
		return
	}
	if err := stores.RecordSummary(ctx, store, summary); err != nil {
		logger.Warnf("could not record run: %v", err)
	}
}
