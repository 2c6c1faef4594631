package engine

import (
	"encoding/json"
	"fmt"
)

// BuildState is the lifecycle state of a build run.
type BuildState string

const (
	// BuildStateExecuting indicates steps are being applied.
	BuildStateExecuting BuildState = "EXECUTING"

	// BuildStateSuccess indicates every step was applied.
	BuildStateSuccess BuildState = "SUCCESS"

	// BuildStateFailed indicates a step failed and the run stopped.
	BuildStateFailed BuildState = "FAILED"

	// BuildStateCancelled indicates the run was stopped by its context.
	BuildStateCancelled BuildState = "CANCELLED"
)

// IsTerminal returns true if no further transitions will happen.
func (s BuildState) IsTerminal() bool {
	return s == BuildStateSuccess || s == BuildStateFailed || s == BuildStateCancelled
}

// Validate checks if the build state is valid.
func (s BuildState) Validate() error {
	switch s {
	case BuildStateExecuting, BuildStateSuccess, BuildStateFailed, BuildStateCancelled:
		return nil
	default:
		return fmt.Errorf("invalid build state: %s", s)
	}
}

// MarshalJSON encodes the state as its string value.
func (s BuildState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON decodes and validates a state.
func (s *BuildState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = BuildState(str)
	return s.Validate()
}

// ResourceKind is the kind of platform resource a step creates.
type ResourceKind string

const (
	// ResourceKindCustomField is a custom contact field.
	ResourceKindCustomField ResourceKind = "custom_field"

	// ResourceKindTag is a contact tag.
	ResourceKindTag ResourceKind = "tag"

	// ResourceKindPipeline is a sales pipeline with its stages.
	ResourceKindPipeline ResourceKind = "pipeline"
)

// KeyPrefix returns the resource key prefix of the kind.
func (k ResourceKind) KeyPrefix() string {
	switch k {
	case ResourceKindCustomField:
		return "cf_"
	case ResourceKindTag:
		return "tag_"
	case ResourceKindPipeline:
		return "pipe_"
	default:
		return ""
	}
}

// Validate checks if the resource kind is valid.
func (k ResourceKind) Validate() error {
	switch k {
	case ResourceKindCustomField, ResourceKindTag, ResourceKindPipeline:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}
