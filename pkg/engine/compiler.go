package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/indigoops/indigo/pkg/blueprint"
)

// Endpoint templates of the provisioning API. The placeholder is the location id.
const (
	CustomFieldsEndpoint = "/v2/locations/%s/customFields"
	TagsEndpoint         = "/v2/locations/%s/tags"
	PipelinesEndpoint    = "/v2/locations/%s/pipelines"
)

// defaultExpectedStatus are the success codes accepted for create calls.
var defaultExpectedStatus = []int{http.StatusOK, http.StatusCreated}

type customFieldPayload struct {
	Name        string `json:"name"`
	DataType    string `json:"dataType"`
	Placeholder string `json:"placeholder"`
}

type tagPayload struct {
	Name string `json:"name"`
}

type pipelinePayload struct {
	Name   string         `json:"name"`
	Stages []stagePayload `json:"stages"`
}

type stagePayload struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// CompileDryRun turns a blueprint into the ordered steps for a tenant:
// custom fields first, then tags, then pipelines, each group in blueprint
// order. It performs no validation and no I/O.
func CompileDryRun(bp *blueprint.Blueprint, tenantID string) []BuildStep {
	planHash := blueprint.ComputePlanHash(bp)
	steps := make([]BuildStep, 0, bp.ResourceCount())

	add := func(kind ResourceKind, name, endpoint, description string, payload any) {
		resourceKey := ResourceKey(kind, name)
		steps = append(steps, BuildStep{
			StepNumber:     len(steps) + 1,
			Kind:           kind,
			ResourceKey:    resourceKey,
			Method:         http.MethodPost,
			Endpoint:       fmt.Sprintf(endpoint, url.PathEscape(tenantID)),
			Payload:        mustMarshal(payload),
			IdempotencyKey: MakeIdempotencyKey(tenantID, planHash, resourceKey),
			Description:    description,
			DependsOn:      []int{},
			ExpectedStatus: append([]int(nil), defaultExpectedStatus...),
		})
	}

	for _, field := range bp.DataModel.CustomFields {
		add(ResourceKindCustomField, field.Key, CustomFieldsEndpoint,
			fmt.Sprintf("Create custom field %q (%s)", field.Name, field.DataType),
			customFieldPayload{Name: field.Name, DataType: field.DataType, Placeholder: field.Name})
	}

	for _, tag := range bp.DataModel.Tags {
		add(ResourceKindTag, tag, TagsEndpoint,
			fmt.Sprintf("Create tag %q", tag),
			tagPayload{Name: tag})
	}

	for _, pipeline := range bp.Pipelines {
		stages := make([]stagePayload, len(pipeline.Stages))
		for i, stage := range pipeline.Stages {
			stages[i] = stagePayload{Name: stage, Position: i}
		}
		add(ResourceKindPipeline, pipeline.Name, PipelinesEndpoint,
			fmt.Sprintf("Create pipeline %q with %d stages", pipeline.Name, len(pipeline.Stages)),
			pipelinePayload{Name: pipeline.Name, Stages: stages})
	}

	return steps
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Payload types only hold strings and ints.
		panic(fmt.Sprintf("engine: marshal payload: %v", err))
	}
	return data
}

// Compiler validates blueprints and compiles them into build plans.
type Compiler struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewCompiler creates a new compiler.
func NewCompiler(logger zerolog.Logger) *Compiler {
	return &Compiler{
		logger: logger.With().Str("component", "compiler").Logger(),
		now:    time.Now,
	}
}

// Compile validates the blueprint, compiles it for the tenant and checks the
// resulting step graph.
func (c *Compiler) Compile(ctx context.Context, bp *blueprint.Blueprint, tenantID string) (*BuildPlan, error) {
	if tenantID == "" {
		return nil, NewPermanentError("tenant id is required", nil).
			WithCode(ErrCodeValidation).
			WithOperation("compile")
	}

	if err := bp.Validate(); err != nil {
		return nil, NewPermanentError("blueprint failed validation", err).
			WithCode(ErrCodeValidation).
			WithOperation("compile")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	steps := CompileDryRun(bp, tenantID)
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}

	plan := &BuildPlan{
		TenantID:  tenantID,
		PlanHash:  blueprint.ComputePlanHash(bp),
		Blueprint: bp,
		Steps:     steps,
		CreatedAt: c.now(),
	}

	if bp.Meta.PlanHash != "" && bp.Meta.PlanHash != plan.PlanHash {
		c.logger.Debug().
			Str("declared", bp.Meta.PlanHash).
			Str("computed", plan.PlanHash).
			Msg("Blueprint declares a stale plan hash, using computed hash")
	}

	c.logger.Info().
		Str("tenant_id", tenantID).
		Str("plan_hash", plan.PlanHash).
		Int("steps", len(steps)).
		Msg("Compiled build plan")

	return plan, nil
}
