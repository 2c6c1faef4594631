package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/indigoops/indigo/pkg/engine"
	"github.com/indigoops/indigo/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var (
		tenantID string
		history  int
		showLogs bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the build status of a location",
		Long:  `Show the latest build status of a location and its recent runs.`,
		Example: `  # Latest status
  indigo status --tenant loc_123

  # Status with the last 10 runs and the build log
  indigo status --tenant loc_123 --history 10 --logs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			status, err := store.GetBuildStatus(ctx, tenantID)
			if err != nil {
				if engine.IsNotFound(err) {
					printf(cmd, "No build recorded for location %s\n", tenantID)
					return nil
				}
				return err
			}

			var runs []*stores.BuildRun
			if history > 0 {
				runs, err = store.ListBuildRuns(ctx, tenantID, stores.ListOptions{Limit: history})
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"status": status,
					"runs":   runs,
				})
			}

			printf(cmd, "Location:  %s\n", status.TenantID)
			printf(cmd, "Status:    %s\n", status.Status)
			printf(cmd, "Run:       %s\n", status.RunID)
			printf(cmd, "Plan hash: %s\n", status.PlanHash)
			printf(cmd, "Last run:  %s\n", status.LastRunAt.Format(time.RFC3339))
			printf(cmd, "Deployed:  %d resources\n", len(status.DeployedResourceIDs))
			if status.Error != "" {
				printf(cmd, "Error:     %s\n", status.Error)
			}

			if showLogs {
				printf(cmd, "\nLog:\n")
				for _, line := range status.Logs {
					printf(cmd, "  %s\n", line)
				}
			}

			if len(runs) > 0 {
				printf(cmd, "\nRecent runs:\n")
				for _, run := range runs {
					printf(cmd, "  %s  %-9s  %3d deployed  %s\n",
						run.StartedAt.Format(time.RFC3339), run.Status, run.DeployedCount, run.RunID)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "location id")
	cmd.Flags().IntVar(&history, "history", 5, "number of recent runs to show")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print the build log")
	cmd.MarkFlagRequired("tenant")

	return cmd
}
