package engine

import (
	"encoding/json"
	"time"

	"github.com/indigoops/indigo/pkg/blueprint"
)

// BuildStep is one provisioning call derived from a blueprint.
type BuildStep struct {
	// StepNumber is 1-based and strictly increasing within a plan.
	StepNumber int `json:"step_number"`

	// Kind is the resource kind created by the step.
	Kind ResourceKind `json:"kind"`

	// ResourceKey identifies the resource within the blueprint (cf_, tag_, pipe_).
	ResourceKey string `json:"resource_key"`

	Method   string          `json:"method"`
	Endpoint string          `json:"endpoint"`
	Payload  json.RawMessage `json:"payload"`

	// IdempotencyKey is sent with the request and keys the deployed resource id.
	IdempotencyKey string `json:"idempotency_key"`

	Description string `json:"description"`

	// DependsOn lists step numbers that must complete first. Always earlier steps.
	DependsOn []int `json:"depends_on"`

	// ExpectedStatus lists the response codes that count as success.
	ExpectedStatus []int `json:"expected_status"`
}

// Expects reports whether statusCode is an accepted response for the step.
func (s *BuildStep) Expects(statusCode int) bool {
	for _, code := range s.ExpectedStatus {
		if code == statusCode {
			return true
		}
	}
	return false
}

// BuildPlan is a compiled blueprint for one tenant.
type BuildPlan struct {
	TenantID  string               `json:"tenant_id"`
	PlanHash  string               `json:"plan_hash"`
	Blueprint *blueprint.Blueprint `json:"-"`
	Steps     []BuildStep          `json:"steps"`
	CreatedAt time.Time            `json:"created_at"`
}

// CountByKind returns the number of steps per resource kind.
func (p *BuildPlan) CountByKind() map[ResourceKind]int {
	counts := make(map[ResourceKind]int, 3)
	for _, step := range p.Steps {
		counts[step.Kind]++
	}
	return counts
}

// BuildStatus is the persisted record of a build run for one location.
type BuildStatus struct {
	RunID    string     `json:"run_id"`
	TenantID string     `json:"tenantId"`
	PlanHash string     `json:"plan_hash"`
	Status   BuildState `json:"status"`

	// DeployedResourceIDs maps idempotency keys to external resource ids.
	DeployedResourceIDs map[string]string `json:"deployedResourceIds"`

	Logs      []string  `json:"logs"`
	LastRunAt time.Time `json:"lastRunAt"`
	Error     string    `json:"error,omitempty"`
}

// NewBuildStatus returns an EXECUTING status with empty collections.
func NewBuildStatus(runID, tenantID, planHash string, now time.Time) *BuildStatus {
	return &BuildStatus{
		RunID:               runID,
		TenantID:            tenantID,
		PlanHash:            planHash,
		Status:              BuildStateExecuting,
		DeployedResourceIDs: make(map[string]string),
		Logs:                make([]string, 0),
		LastRunAt:           now,
	}
}

// IsDeployed reports whether the step's resource has a recorded id.
func (s *BuildStatus) IsDeployed(step *BuildStep) bool {
	_, ok := s.DeployedResourceIDs[step.IdempotencyKey]
	return ok
}

// Clone returns a deep copy safe to hand to a store.
func (s *BuildStatus) Clone() *BuildStatus {
	c := *s
	c.DeployedResourceIDs = make(map[string]string, len(s.DeployedResourceIDs))
	for k, v := range s.DeployedResourceIDs {
		c.DeployedResourceIDs[k] = v
	}
	c.Logs = append(make([]string, 0, len(s.Logs)), s.Logs...)
	return &c
}

// Credentials are the stored OAuth credentials for one location.
type Credentials struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LocationID   string    `json:"locationId"`
	Scopes       []string  `json:"scopes"`
}

// Expired reports whether the access token has expired at now.
func (c *Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ProvisionRequest is a single call to the provisioning API.
type ProvisionRequest struct {
	TenantID       string          `json:"tenant_id"`
	Method         string          `json:"method"`
	Endpoint       string          `json:"endpoint"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// ProvisionResponse is the outcome of a provisioning call that reached the platform.
type ProvisionResponse struct {
	StatusCode int    `json:"status_code"`
	ResourceID string `json:"resource_id,omitempty"`

	// Body is the raw response body, kept for diagnostics.
	Body []byte `json:"-"`
}
