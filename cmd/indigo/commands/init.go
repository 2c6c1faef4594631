package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/indigoops/indigo/pkg/config"
	"github.com/indigoops/indigo/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		dataDir string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an Indigo workspace",
		Long: `Initialize a workspace with a default config file, a policy directory
and a migrated SQLite database.`,
		Example: `  # Initialize in the current directory
  indigo init

  # Initialize with a custom config path and data directory
  indigo init --config /etc/indigo/indigo.yaml --data-dir /var/lib/indigo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath
			}

			log.Info().
				Str("config", path).
				Str("data_dir", dataDir).
				Msg("Initializing workspace")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to check config file: %w", err)
			}

			policyDir := filepath.Join(filepath.Dir(path), "policies")
			for _, dir := range []string{dataDir, policyDir} {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				printf(cmd, "✓ Created directory: %s\n", dir)
			}

			cfg := config.Default()
			cfg.Database.Path = filepath.Join(dataDir, "indigo.db")
			cfg.Policy.Paths = []string{policyDir}
			cfg.Policy.Watch = true

			store, err := stores.Open(cmd.Context(), cfg.Database, log.Logger)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			if err := store.Close(); err != nil {
				return err
			}
			printf(cmd, "✓ Initialized SQLite database: %s\n", cfg.Database.Path)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			content := append([]byte("# Indigo configuration\n\n"), data...)
			if err := os.WriteFile(path, content, 0o600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			printf(cmd, "✓ Created config file: %s\n", path)

			printf(cmd, "\nNext steps:\n")
			printf(cmd, "  1. Store credentials for a location:\n")
			printf(cmd, "     indigo credentials set --tenant <location> --access-token <token>\n\n")
			printf(cmd, "  2. Preview and apply a blueprint:\n")
			printf(cmd, "     indigo dry-run --tenant <location> blueprint.json\n")
			printf(cmd, "     indigo apply --tenant <location> blueprint.json\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for the SQLite database")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
