package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/indigoops/indigo/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "validate <blueprint>",
		Short: "Validate a blueprint and check it against policies",
		Long: `Validate a blueprint and evaluate the compiled plan against policies.

This command checks:
  - Schema conformance of the blueprint document
  - Field rules (names, keys, unique tags and pipelines)
  - Built-in and configured OPA/rego policies`,
		Example: `  # Validate a blueprint
  indigo validate blueprint.json

  # Evaluate policies for a specific location
  indigo validate --tenant loc_123 blueprint.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			bp, err := loadBlueprint(args[0])
			if err != nil {
				return err
			}

			plan, err := engine.NewCompiler(a.logger).Compile(cmd.Context(), bp, tenantID)
			if err != nil {
				return err
			}

			policies, err := a.policyEngine(cmd.Context(), false)
			if err != nil {
				return err
			}

			result, err := policies.Evaluate(cmd.Context(), plan)
			if err != nil {
				return err
			}

			log.Debug().
				Str("plan_hash", plan.PlanHash).
				Strs("policies", result.EvaluatedPolicies).
				Dur("duration", result.Duration).
				Msg("Evaluated policies")

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printf(cmd, "Blueprint %s: %d steps, plan hash %s\n", args[0], len(plan.Steps), plan.PlanHash)
				for _, v := range result.Violations {
					printf(cmd, "✗ [%s] %s: %s\n", v.Policy, v.Resource, v.Message)
				}
				for _, w := range result.Warnings {
					printf(cmd, "! [%s] %s: %s\n", w.Policy, w.Resource, w.Message)
				}
				if result.Allowed {
					printf(cmd, "✓ Blueprint is valid (%d policies evaluated)\n", len(result.EvaluatedPolicies))
				}
			}

			if !result.Allowed {
				return fmt.Errorf("blueprint denied by %d policy violation(s)", len(result.Violations))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "preview", "location id the plan is compiled for")

	return cmd
}
