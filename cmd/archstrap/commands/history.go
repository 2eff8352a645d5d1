package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/archstrap/archstrap/pkg/config"
	"github.com/archstrap/archstrap/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past provisioning runs",
		Long: `Show past runs recorded in the local state database. With --id the
per-step results of one run are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := stores.NewSQLiteStore(settings.Engine.StatePath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			if runID != "" {
				return showRun(cmd, store, runID)
			}

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tOK\tSKIP\tFAIL\tDURATION")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					run.ID, run.StartedAt.Local().Format(time.RFC3339), run.Status,
					run.Succeeded, run.Skipped, run.Failed, run.Duration.Round(100*time.Millisecond))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().StringVar(&runID, "id", "", "show one run in detail")

	return cmd
}

func showRun(cmd *cobra.Command, store stores.Store, id string) error {
	run, steps, err := store.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %s, started %s, took %s\n\n",
		run.ID, run.Status, run.StartedAt.Local().Format(time.RFC3339),
		run.Duration.Round(100*time.Millisecond))

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tATTEMPTS\tDURATION\tNOTE")
	for _, step := range steps {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			step.Name, step.Status, step.Attempts,
			step.Duration.Round(time.Millisecond), step.Note)
	}
	return tw.Flush()
}
