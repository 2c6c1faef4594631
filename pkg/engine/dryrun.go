package engine

import (
	"fmt"

	"github.com/indigoops/indigo/pkg/blueprint"
)

// dryRunKeySuffix is the number of idempotency key characters shown in previews.
const dryRunKeySuffix = 12

// DryRun renders the steps a build would execute, one line per step.
// No limiter, client or store is involved.
func DryRun(bp *blueprint.Blueprint, tenantID string) []string {
	return FormatSteps(CompileDryRun(bp, tenantID))
}

// FormatSteps renders compiled steps as preview lines.
func FormatSteps(steps []BuildStep) []string {
	lines := make([]string, 0, len(steps))
	for i := range steps {
		lines = append(lines, FormatStep(&steps[i]))
	}
	return lines
}

// FormatStep renders a single preview line.
func FormatStep(step *BuildStep) string {
	return fmt.Sprintf("Step %d: %s %s [idem …%s]",
		step.StepNumber, step.Method, step.Endpoint, KeySuffix(step.IdempotencyKey, dryRunKeySuffix))
}
