package blueprint

import "encoding/json"

// Blueprint is the declarative description of the resources to provision.
type Blueprint struct {
	// SchemaVersion is the blueprint document version.
	SchemaVersion string `json:"schema_version,omitempty"`

	// Meta carries informational metadata. Meta.PlanHash is never trusted.
	Meta Meta `json:"meta"`

	// DataModel holds the custom fields and tags to create.
	DataModel DataModel `json:"data_model"`

	// Pipelines are the sales pipelines to create, in order.
	Pipelines []Pipeline `json:"pipelines" validate:"unique=Name,dive"`

	// WorkflowsManifest is passed through without interpretation.
	WorkflowsManifest json.RawMessage `json:"workflows_manifest,omitempty"`

	// QARequirements is passed through without interpretation.
	QARequirements json.RawMessage `json:"qa_requirements,omitempty"`

	// Ignored lists attributes of the data model, custom fields and pipelines
	// that the document carries but no step sends. They do not contribute to
	// the plan hash.
	Ignored []string `json:"-"`
}

// Meta is informational blueprint metadata.
type Meta struct {
	PlanHash       string `json:"plan_hash,omitempty"`
	TargetBusiness string `json:"target_business,omitempty"`
}

// DataModel groups the custom fields and tags of a blueprint.
type DataModel struct {
	CustomFields []CustomField `json:"custom_fields" validate:"unique=Key,dive"`
	Tags         []string      `json:"tags" validate:"unique,dive,required"`
}

// CustomField is a custom contact field definition.
type CustomField struct {
	// Name is the display name shown in the platform.
	Name string `json:"name" validate:"required"`

	// DataType is the platform data type (TEXT, NUMERICAL, DATE, ...).
	DataType string `json:"dataType" validate:"required"`

	// Key is the stable identifier of the field within the blueprint.
	Key string `json:"key" validate:"required"`
}

// Pipeline is a sales pipeline definition.
type Pipeline struct {
	Name   string   `json:"name" validate:"required"`
	Stages []string `json:"stages" validate:"min=1,dive,required"`
}

// ResourceCount returns the number of resources the blueprint provisions.
func (b *Blueprint) ResourceCount() int {
	return len(b.DataModel.CustomFields) + len(b.DataModel.Tags) + len(b.Pipelines)
}
