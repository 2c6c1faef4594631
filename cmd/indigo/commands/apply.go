package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/indigoops/indigo/pkg/engine"
	"github.com/indigoops/indigo/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		tenantID string
		simulate bool
	)

	cmd := &cobra.Command{
		Use:   "apply <blueprint>",
		Short: "Provision a blueprint into a location",
		Long: `Provision every resource of a blueprint into a CRM location.

This command:
  - Verifies the location has stored credentials
  - Compiles the blueprint and checks it against policies
  - Issues one rate-limited API call per step, with idempotency keys
  - Persists the build status after every step

Re-running after a failure resumes from the first step that was not deployed,
as long as the blueprint is unchanged. Interrupting the command records the
build as CANCELLED.`,
		Example: `  # Provision a blueprint
  indigo apply --tenant loc_123 blueprint.json

  # Run against the in-memory simulation instead of the platform
  indigo apply --tenant loc_123 --simulate blueprint.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			bp, err := loadBlueprint(args[0])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tel.StartMetricsServer(); err != nil {
				return err
			}

			runner, err := a.buildRunner(ctx, simulate)
			if err != nil {
				return err
			}

			ctx, span := a.tel.Tracer.StartSpan(ctx, "cli.apply",
				attribute.String("blueprint", args[0]),
				attribute.String("build.tenant_id", tenantID),
				attribute.Bool("simulate", simulate),
			)
			defer func() { telemetry.EndSpan(span, err) }()

			log.Info().
				Str("blueprint", args[0]).
				Str("tenant_id", tenantID).
				Bool("simulate", simulate).
				Str("trace_id", telemetry.TraceID(ctx)).
				Msg("Applying blueprint")

			var onLog engine.LogFunc
			if !jsonOutput {
				onLog = func(msg string) { printf(cmd, "%s\n", msg) }
			}

			status, err := runner.ExecuteBuild(ctx, bp, tenantID, onLog)
			if jsonOutput && status != nil {
				if perr := printJSON(cmd.OutOrStdout(), status); perr != nil {
					return perr
				}
			}
			if err != nil {
				if engine.IsRetryable(err) {
					log.Warn().Msg("Build can be resumed by running the same command again")
				}
				return err
			}

			if !jsonOutput {
				printf(cmd, "✓ Build %s completed: %d resources deployed\n", status.RunID, len(status.DeployedResourceIDs))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "location id to provision into")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "use the in-memory platform simulation")
	cmd.MarkFlagRequired("tenant")

	return cmd
}
