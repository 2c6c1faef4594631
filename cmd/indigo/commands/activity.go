package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/indigoops/indigo/pkg/stores"
)

func newActivityCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "activity",
		Short:   "Show recent activity",
		Long:    `Show the most recent progress lines recorded by builds, oldest first.`,
		Example: `  indigo activity --limit 100`,
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

			entries, err := store.ListActivity(ctx, stores.ListOptions{Limit: limit})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			for _, e := range entries {
				printf(cmd, "%s  %-7s  %s\n", e.Timestamp.Local().Format(time.DateTime), e.Level, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")

	return cmd
}
