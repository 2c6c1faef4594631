package policy

// Built-in policy names.
const (
	PolicyTagCollisions    = "tag-collisions"
	PolicyPipelineStages   = "pipeline-stages"
	PolicyCustomFieldTypes = "custom-field-types"
	PolicyStepBudget       = "step-budget"
)

// MaxPipelineStages is the stage count above which pipeline-stages warns.
const MaxPipelineStages = 25

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		tagCollisionsPolicy(),
		pipelineStagesPolicy(),
		customFieldTypesPolicy(),
		stepBudgetPolicy(),
	}
}

// tagCollisionsPolicy rejects tags the platform would treat as the same tag.
func tagCollisionsPolicy() Policy {
	return Policy{
		Name:        PolicyTagCollisions,
		Description: "Rejects tags that differ only in case or surrounding whitespace",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"tags", "naming"},
		Rego: `package indigo.policies.tags

import rego.v1

normalized(tag) := lower(trim_space(tag))

deny contains violation if {
	tags := input.blueprint.data_model.tags
	some i, j
	first := tags[i]
	second := tags[j]
	i < j
	normalized(first) == normalized(second)
	violation := {
		"message": sprintf("tag '%s' collides with tag '%s'", [second, first]),
		"severity": "error",
		"resource": concat("", ["tag_", second]),
	}
}
`,
	}
}

// pipelineStagesPolicy checks stage lists of pipelines.
func pipelineStagesPolicy() Policy {
	return Policy{
		Name:        PolicyPipelineStages,
		Description: "Rejects duplicate stage names and warns about very long pipelines",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"pipelines"},
		Rego: `package indigo.policies.pipelines

import rego.v1

max_stages := 25

deny contains violation if {
	some pipeline in input.blueprint.pipelines
	some i, j
	first := pipeline.stages[i]
	second := pipeline.stages[j]
	i < j
	lower(first) == lower(second)
	violation := {
		"message": sprintf("pipeline '%s' has duplicate stage '%s' at positions %d and %d", [pipeline.name, second, i, j]),
		"severity": "error",
		"resource": concat("", ["pipe_", pipeline.name]),
	}
}

deny contains violation if {
	some pipeline in input.blueprint.pipelines
	count(pipeline.stages) > max_stages
	violation := {
		"message": sprintf("pipeline '%s' has %d stages, more than %d", [pipeline.name, count(pipeline.stages), max_stages]),
		"severity": "warning",
		"resource": concat("", ["pipe_", pipeline.name]),
	}
}
`,
	}
}

// customFieldTypesPolicy warns about data types the platform does not know.
func customFieldTypesPolicy() Policy {
	return Policy{
		Name:        PolicyCustomFieldTypes,
		Description: "Warns about custom fields whose dataType the platform does not support",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"custom-fields"},
		Rego: `package indigo.policies.custom_fields

import rego.v1

allowed_types := {
	"TEXT", "LARGE_TEXT", "NUMERICAL", "PHONE", "MONETORY", "CHECKBOX",
	"SINGLE_OPTIONS", "MULTIPLE_OPTIONS", "FLOAT", "TIME", "DATE",
	"TEXTBOX_LIST", "FILE_UPLOAD", "SIGNATURE", "EMAIL", "RADIO",
}

deny contains violation if {
	some field in input.blueprint.data_model.custom_fields
	not allowed_types[field.dataType]
	violation := {
		"message": sprintf("custom field '%s' has unsupported dataType '%s'", [field.name, field.dataType]),
		"severity": "warning",
		"resource": concat("", ["cf_", field.key]),
	}
}
`,
	}
}

// stepBudgetPolicy warns when a plan cannot run on a full token bucket.
func stepBudgetPolicy() Policy {
	return Policy{
		Name:        PolicyStepBudget,
		Description: "Warns when a plan has more steps than the rate limiter holds",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"rate-limit"},
		Rego: `package indigo.policies.budget

import rego.v1

deny contains violation if {
	budget := input.limits.step_budget
	budget > 0
	count(input.steps) > budget
	violation := {
		"message": sprintf("plan has %d steps, more than the rate limit capacity of %d; the build will wait for refills", [count(input.steps), budget]),
		"severity": "warning",
		"resource": input.plan_hash,
	}
}
`,
	}
}
