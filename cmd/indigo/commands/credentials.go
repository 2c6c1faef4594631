package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/indigoops/indigo/pkg/engine"
)

func newCredentialsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored platform credentials",
		Long:  `Manage the OAuth credentials used to call the platform on behalf of a location.`,
	}

	cmd.AddCommand(newCredentialsSetCommand())
	cmd.AddCommand(newCredentialsShowCommand())
	cmd.AddCommand(newCredentialsDeleteCommand())

	return cmd
}

func newCredentialsSetCommand() *cobra.Command {
	var (
		tenantID     string
		accessToken  string
		refreshToken string
		expiresIn    time.Duration
		scopes       []string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store credentials for a location",
		Example: `  indigo credentials set --tenant loc_123 --access-token $TOKEN \
    --expires-in 24h --scopes locations/customFields.write,locations/tags.write`,
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

			creds := &engine.Credentials{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				LocationID:   tenantID,
				Scopes:       scopes,
			}
			if expiresIn > 0 {
				creds.ExpiresAt = time.Now().Add(expiresIn).UTC()
			}

			if err := store.SaveCredentials(ctx, creds); err != nil {
				return err
			}

			printf(cmd, "✓ Stored credentials for location %s\n", tenantID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "location id")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "token lifetime (0 for no expiry)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "granted scopes")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("access-token")

	return cmd
}

func newCredentialsShowCommand() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show stored credentials for a location",
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

			creds, err := store.GetCredentials(ctx, tenantID)
			if err != nil {
				return err
			}

			masked := *creds
			masked.AccessToken = maskSecret(creds.AccessToken)
			if creds.RefreshToken != "" {
				masked.RefreshToken = maskSecret(creds.RefreshToken)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), masked)
			}

			printf(cmd, "Location:      %s\n", masked.LocationID)
			printf(cmd, "Access token:  %s\n", masked.AccessToken)
			if masked.RefreshToken != "" {
				printf(cmd, "Refresh token: %s\n", masked.RefreshToken)
			}
			printf(cmd, "Expires:       %s\n", formatExpiry(creds))
			printf(cmd, "Scopes:        %v\n", masked.Scopes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "location id")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func newCredentialsDeleteCommand() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete stored credentials for a location",
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

			if err := store.DeleteCredentials(ctx, tenantID); err != nil {
				return err
			}

			printf(cmd, "✓ Deleted credentials for location %s\n", tenantID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "location id")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func formatExpiry(creds *engine.Credentials) string {
	if creds.ExpiresAt.IsZero() {
		return "never"
	}
	state := "valid"
	if creds.Expired(time.Now()) {
		state = "expired"
	}
	return fmt.Sprintf("%s (%s)", creds.ExpiresAt.Format(time.RFC3339), state)
}
