package commands

import (
	"github.com/spf13/cobra"

	"github.com/indigoops/indigo/pkg/blueprint"
)

func newHashCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash <blueprint>",
		Short: "Print the plan hash of a blueprint",
		Long: `Print the content hash of a blueprint's data model and pipelines.

The hash ignores workflows and QA metadata, so it only changes when the
resources a build would create change.`,
		Example: `  indigo hash blueprint.json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bp, err := loadBlueprint(args[0])
			if err != nil {
				return err
			}

			hash := blueprint.ComputePlanHash(bp)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"plan_hash": hash,
					"resources": bp.ResourceCount(),
				})
			}

			printf(cmd, "%s\n", hash)
			return nil
		},
	}

	return cmd
}
