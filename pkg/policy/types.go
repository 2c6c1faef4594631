package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block a build.
	SeverityWarning Severity = "warning"

	// SeverityError blocks a build.
	SeverityError Severity = "error"

	// SeverityCritical blocks a build.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a rego module evaluated against every build plan. The module must
// define a "deny" set whose members are strings or objects with message,
// severity and resource fields.
type Policy struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Rego        string                 `json:"rego"`
	Severity    Severity               `json:"severity"`
	Enabled     bool                   `json:"enabled"`
	Builtin     bool                   `json:"builtin"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is one member of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy"`
	Resource string   `json:"resource,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all enabled policies against a plan.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking violations and evaluation failures.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Config configures the policy engine.
type Config struct {
	// Paths are .rego or .json policy files or directories loaded next to the
	// built-in policies.
	Paths []string `yaml:"paths"`

	// Watch reloads Paths when files change.
	Watch bool `yaml:"watch"`

	// Disabled names policies that are loaded but not evaluated.
	Disabled []string `yaml:"disabled"`

	// StepBudget is the step count above which the step-budget policy warns.
	// Zero disables the check.
	StepBudget int `yaml:"step_budget" validate:"gte=0"`
}

// planInput is the document policies see as "input".
type planInput struct {
	TenantID  string          `json:"tenant_id"`
	PlanHash  string          `json:"plan_hash"`
	Steps     []stepInput     `json:"steps"`
	Blueprint *blueprintInput `json:"blueprint"`
	Limits    limitsInput     `json:"limits"`
}

type stepInput struct {
	StepNumber  int    `json:"step_number"`
	Kind        string `json:"kind"`
	ResourceKey string `json:"resource_key"`
	Method      string `json:"method"`
	Endpoint    string `json:"endpoint"`
}

type blueprintInput struct {
	DataModel dataModelInput  `json:"data_model"`
	Pipelines []pipelineInput `json:"pipelines"`
}

type dataModelInput struct {
	CustomFields []customFieldInput `json:"custom_fields"`
	Tags         []string           `json:"tags"`
}

type customFieldInput struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Key      string `json:"key"`
}

type pipelineInput struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages"`
}

type limitsInput struct {
	StepBudget int `json:"step_budget"`
}
