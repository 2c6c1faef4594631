package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/indigoops/indigo/pkg/blueprint"
	"github.com/indigoops/indigo/pkg/engine"
)

// rerenderDelay coalesces the burst of events editors emit on save.
const rerenderDelay = 200 * time.Millisecond

func newDryRunCommand() *cobra.Command {
	var (
		tenantID string
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "dry-run <blueprint>",
		Short: "Preview the steps a build would execute",
		Long: `Preview the ordered API calls a build would issue for a location.

No credentials, rate limiter, network or database are used. With --watch the
preview is printed again whenever the blueprint file changes.`,
		Example: `  # Preview a build
  indigo dry-run --tenant loc_123 blueprint.json

  # Re-render on every save
  indigo dry-run --tenant loc_123 --watch blueprint.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			if err := renderDryRun(cmd, path, tenantID); err != nil {
				if !watch {
					return err
				}
				log.Warn().Err(err).Str("blueprint", path).Msg("Failed to render preview")
			}
			if !watch {
				return nil
			}

			return watchBlueprint(cmd.Context(), path, func() {
				printf(cmd, "\n")
				if err := renderDryRun(cmd, path, tenantID); err != nil {
					log.Warn().Err(err).Str("blueprint", path).Msg("Failed to render preview")
				}
			})
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "location id to preview the build for")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render when the blueprint changes")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func renderDryRun(cmd *cobra.Command, path, tenantID string) error {
	bp, err := loadBlueprint(path)
	if err != nil {
		return err
	}

	steps := engine.CompileDryRun(bp, tenantID)
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), steps)
	}

	printf(cmd, "Plan %s for location %s (%d steps)\n", blueprint.ComputePlanHash(bp), tenantID, len(steps))
	for _, line := range engine.FormatSteps(steps) {
		printf(cmd, "%s\n", line)
	}
	return nil
}

// watchBlueprint calls render after each change to path until ctx ends.
// The parent directory is watched so editors that replace the file on save
// keep triggering events.
func watchBlueprint(ctx context.Context, path string, render func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	log.Info().Str("blueprint", path).Msg("Watching blueprint for changes")

	timer := time.NewTimer(rerenderDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(rerenderDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Blueprint watcher error")

		case <-timer.C:
			render()
		}
	}
}
