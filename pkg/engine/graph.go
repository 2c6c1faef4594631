package engine

import "fmt"

// ValidateSteps checks the structural invariants of a compiled step list:
// numbering runs 1..N without gaps, idempotency keys are unique and every
// dependency refers to an earlier step. Executing steps in numeric order is
// therefore always a valid topological order.
func ValidateSteps(steps []BuildStep) error {
	seenKeys := make(map[string]int, len(steps))

	for i := range steps {
		step := &steps[i]

		if step.StepNumber != i+1 {
			return NewPermanentError(
				fmt.Sprintf("step at position %d has number %d", i+1, step.StepNumber), nil,
			).WithCode(ErrCodeValidation).WithResource(step.ResourceKey)
		}

		if err := step.Kind.Validate(); err != nil {
			return NewPermanentError("step has an unknown resource kind", err).
				WithCode(ErrCodeValidation).WithResource(step.ResourceKey)
		}

		if step.IdempotencyKey == "" {
			return NewPermanentError(fmt.Sprintf("step %d has empty idempotency key", step.StepNumber), nil).
				WithCode(ErrCodeValidation).WithResource(step.ResourceKey)
		}

		if prev, exists := seenKeys[step.IdempotencyKey]; exists {
			return NewPermanentError(
				fmt.Sprintf("steps %d and %d share idempotency key %s", prev, step.StepNumber, step.IdempotencyKey), nil,
			).WithCode(ErrCodeValidation).WithResource(step.ResourceKey)
		}
		seenKeys[step.IdempotencyKey] = step.StepNumber

		for _, dep := range step.DependsOn {
			if dep < 1 || dep >= step.StepNumber {
				return NewPermanentError(
					fmt.Sprintf("step %d depends on step %d which does not precede it", step.StepNumber, dep), nil,
				).WithCode(ErrCodeValidation).WithResource(step.ResourceKey)
			}
		}
	}

	return nil
}
