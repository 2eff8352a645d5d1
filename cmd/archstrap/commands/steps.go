package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/archstrap/archstrap/pkg/config"
	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
)

func newStepsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List the provisioning steps",
		Long: `List every registered step in execution order with its batch, flags
and whether it is applicable under the current configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return err
			}

			cleanup := engine.NewCleanupManager()
			local := runner.NewLocalRunner(zerolog.Nop())
			deps := buildDeps(settings, cleanup, local, zerolog.Nop())
			reg, err := buildRegistry(settings, deps)
			if err != nil {
				return err
			}

			rc := settings.RunContext()
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BATCH\tKEY\tNAME\tFLAGS\tAPPLICABLE")
			for _, batch := range reg.OrderedBatches() {
				for _, d := range batch.Steps {
					applicable := "yes"
					if (d.NeedsUser && !rc.HasUser()) || (d.Applicable != nil && !d.Applicable(rc)) {
						applicable = "no"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
						batch.Order, d.Key, d.Name, flagLabel(d), applicable)
				}
			}
			return tw.Flush()
		},
	}
	return cmd
}

// flagLabel renders the descriptor flags for display.
func flagLabel(d engine.Descriptor) string {
	var flags []string
	if d.Critical {
		flags = append(flags, "critical")
	}
	if d.NeedsUser {
		flags = append(flags, "needs-user")
	}
	if d.MutatesPkgDB {
		flags = append(flags, "pkg-db")
	}
	if d.ParallelSafe {
		flags = append(flags, "parallel")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}
