package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "indigo",
		Short: "Indigo - CRM blueprint provisioning engine",
		Long: `Indigo turns a blueprint (custom fields, tags and pipelines) into the
ordered, idempotent API calls that create those resources in a CRM location.

Features:
  - Content-addressed plan hashes and idempotency keys
  - Dry-run previews without network access
  - Rate-limited execution with resumable build status
  - Policy checks via OPA/rego
  - SQLite persistence of status, credentials and activity`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default indigo.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newHashCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDryRunCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newCredentialsCommand())
	rootCmd.AddCommand(newActivityCommand())

	return rootCmd
}
