// Package engine compiles blueprints into provisioning steps and executes them
// against the CRM automation platform exactly once per resource.
//
// # Overview
//
// A build moves through three stages:
//
//  1. Compile - CompileDryRun turns a blueprint into ordered BuildSteps
//     (custom fields, then tags, then pipelines) with derived idempotency keys.
//  2. Gate - an optional PlanGate (the policy engine) may deny a BuildPlan.
//  3. Execute - BuildRunner applies the steps sequentially, acquiring a rate
//     limiter permit before every call and persisting the BuildStatus after
//     every step.
//
// # Idempotency
//
// Every resource is identified by the key tenant:planHash:resourceKey. The key
// is sent with the request and indexes BuildStatus.DeployedResourceIDs, so a
// later run of the same plan skips resources that already exist and a changed
// blueprint (new plan hash) never collides with an earlier one.
//
// # Collaborators
//
// The runner owns no global state. Its collaborators are interfaces:
//
//	type ProvisioningClient interface {
//	    Create(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error)
//	}
//
//	type RateLimiter interface {
//	    Acquire(ctx context.Context, tenantID string) error
//	}
//
//	type BuildStatusStore interface {
//	    SaveBuildStatus(ctx context.Context, status *BuildStatus) error
//	    GetBuildStatus(ctx context.Context, locationID string) (*BuildStatus, error)
//	}
//
// # Errors
//
// Failures are *EngineError values classified as transient, throttled,
// conflict or permanent. A failed step stops the build without retrying;
// IsRetryable tells the caller whether running the build again is worthwhile.
package engine
