package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/indigoops/indigo/pkg/blueprint"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

// maskSecret keeps the last four characters of a token.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// loadBlueprint loads a blueprint and warns about attributes no step sends.
func loadBlueprint(path string) (*blueprint.Blueprint, error) {
	bp, err := blueprint.Load(path)
	if err != nil {
		return nil, err
	}
	if len(bp.Ignored) > 0 {
		log.Warn().
			Str("blueprint", path).
			Strs("attributes", bp.Ignored).
			Msg("Blueprint attributes are not provisioned and do not affect the plan hash")
	}
	return bp, nil
}
