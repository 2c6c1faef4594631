package engine

import "context"

// ProvisioningClient performs calls against the CRM automation platform.
// Implementations return a response for every call that reached the platform,
// whatever its status code, and an error only when no response was received.
type ProvisioningClient interface {
	Create(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error)
}

// RateLimiter grants permission to issue one provisioning call.
type RateLimiter interface {
	// Acquire blocks until a permit is available for the tenant or ctx ends.
	Acquire(ctx context.Context, tenantID string) error
}

// BuildStatusStore persists build status records keyed by location id.
type BuildStatusStore interface {
	// SaveBuildStatus overwrites the record for status.TenantID.
	SaveBuildStatus(ctx context.Context, status *BuildStatus) error

	// GetBuildStatus returns the record for a location, or an error
	// satisfying IsNotFound when none exists.
	GetBuildStatus(ctx context.Context, locationID string) (*BuildStatus, error)
}

// CredentialStore provides the stored platform credentials of a location.
type CredentialStore interface {
	// GetCredentials returns the credentials for a location, or an error
	// satisfying IsNotFound when none exist.
	GetCredentials(ctx context.Context, locationID string) (*Credentials, error)
}

// ActivityLog receives human-readable progress lines.
type ActivityLog interface {
	PushLog(message string)
}

// PlanGate decides whether a compiled plan may be executed.
type PlanGate interface {
	// CheckPlan returns an error satisfying IsPermanent when the plan is denied.
	CheckPlan(ctx context.Context, plan *BuildPlan) error
}

// BuildObserver receives build and step measurements.
type BuildObserver interface {
	RecordBuildStarted(steps int)
	RecordBuildFinished(state string, seconds float64)
	RecordStep(kind, outcome string, seconds float64)
	RecordProvisioningCall(kind string, statusCode int)
}

// LogFunc receives each progress line synchronously.
type LogFunc func(message string)
