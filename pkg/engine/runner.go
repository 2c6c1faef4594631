package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/indigoops/indigo/pkg/blueprint"
)

// maxErrorBody bounds the response body excerpt attached to step errors.
const maxErrorBody = 512

// BuildRunner executes compiled blueprints against the provisioning API.
// Steps of one build run sequentially; a runner may serve several builds
// concurrently.
type BuildRunner struct {
	client      ProvisioningClient
	limiter     RateLimiter
	statuses    BuildStatusStore
	credentials CredentialStore

	compiler *Compiler
	gate     PlanGate
	activity ActivityLog
	observer BuildObserver
	tracer   trace.Tracer
	logger   zerolog.Logger

	now      func() time.Time
	newRunID func() string
}

// RunnerOption configures a BuildRunner.
type RunnerOption func(*BuildRunner)

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *BuildRunner) {
		r.logger = logger
	}
}

// WithPlanGate sets the gate consulted before a plan is executed.
func WithPlanGate(gate PlanGate) RunnerOption {
	return func(r *BuildRunner) {
		r.gate = gate
	}
}

// WithActivityLog sets the activity sink that mirrors every progress line.
func WithActivityLog(activity ActivityLog) RunnerOption {
	return func(r *BuildRunner) {
		r.activity = activity
	}
}

// WithObserver sets the metrics observer.
func WithObserver(observer BuildObserver) RunnerOption {
	return func(r *BuildRunner) {
		r.observer = observer
	}
}

// WithTracer sets the tracer used for build and step spans.
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *BuildRunner) {
		r.tracer = tracer
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *BuildRunner) {
		r.now = now
	}
}

// WithRunIDGenerator overrides run id generation.
func WithRunIDGenerator(gen func() string) RunnerOption {
	return func(r *BuildRunner) {
		r.newRunID = gen
	}
}

// NewBuildRunner creates a runner from its collaborators.
func NewBuildRunner(
	client ProvisioningClient,
	limiter RateLimiter,
	statuses BuildStatusStore,
	credentials CredentialStore,
	opts ...RunnerOption,
) *BuildRunner {
	r := &BuildRunner{
		client:      client,
		limiter:     limiter,
		statuses:    statuses,
		credentials: credentials,
		observer:    noopObserver{},
		tracer:      noop.NewTracerProvider().Tracer("indigo/engine"),
		logger:      zerolog.Nop(),
		now:         time.Now,
		newRunID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.With().Str("component", "build_runner").Logger()
	r.compiler = NewCompiler(r.logger)
	r.compiler.now = r.now

	return r
}

// buildRun is the mutable state of one ExecuteBuild call.
type buildRun struct {
	runner *BuildRunner
	plan   *BuildPlan
	status *BuildStatus
	onLog  LogFunc
	start  time.Time
	span   trace.Span
}

func (b *buildRun) log(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if b.status != nil {
		b.status.Logs = append(b.status.Logs, msg)
	}
	if b.onLog != nil {
		b.onLog(msg)
	}
	if b.runner.activity != nil {
		b.runner.activity.PushLog(msg)
	}
}

// ExecuteBuild provisions every resource of the blueprint for the tenant.
//
// Credentials are checked and the blueprint is compiled before any status is
// recorded; failures at that stage return a nil status. Afterwards the
// returned status always reflects the final state, also when an error is
// returned. Resources already deployed under the same plan hash are skipped.
func (r *BuildRunner) ExecuteBuild(ctx context.Context, bp *blueprint.Blueprint, tenantID string, onLog LogFunc) (*BuildStatus, error) {
	run := &buildRun{runner: r, onLog: onLog}

	run.log("Verifying credentials for location %s", tenantID)
	if err := r.checkCredentials(ctx, tenantID); err != nil {
		return nil, err
	}

	plan, err := r.compiler.Compile(ctx, bp, tenantID)
	if err != nil {
		run.log("Blueprint rejected: %v", err)
		return nil, err
	}
	run.plan = plan

	if r.gate != nil {
		if err := r.gate.CheckPlan(ctx, plan); err != nil {
			run.log("Build plan denied: %v", err)
			return nil, err
		}
	}

	run.status = NewBuildStatus(r.newRunID(), tenantID, plan.PlanHash, r.now())
	run.start = r.now()

	ctx, run.span = r.tracer.Start(ctx, "build",
		trace.WithAttributes(
			attribute.String("build.run_id", run.status.RunID),
			attribute.String("build.tenant_id", tenantID),
			attribute.String("build.plan_hash", plan.PlanHash),
			attribute.Int("build.steps", len(plan.Steps)),
		))
	defer run.span.End()

	r.observer.RecordBuildStarted(len(plan.Steps))
	r.logger.Info().
		Str("run_id", run.status.RunID).
		Str("tenant_id", tenantID).
		Str("plan_hash", plan.PlanHash).
		Int("steps", len(plan.Steps)).
		Msg("Starting build")

	if resumed := r.resume(ctx, run.status); resumed > 0 {
		run.log("Resuming plan %s: %d of %d resources already deployed", plan.PlanHash, resumed, len(plan.Steps))
	}
	run.log("Starting build %s: %d steps for plan %s", run.status.RunID, len(plan.Steps), plan.PlanHash)
	r.persist(ctx, run.status)

	total := len(plan.Steps)
	for i := range plan.Steps {
		step := &plan.Steps[i]

		if err := ctx.Err(); err != nil {
			return r.cancel(ctx, run, err)
		}

		if run.status.IsDeployed(step) {
			run.log("Step %d/%d: %s already deployed as %s, skipping",
				step.StepNumber, total, step.ResourceKey, run.status.DeployedResourceIDs[step.IdempotencyKey])
			r.observer.RecordStep(string(step.Kind), "skipped", 0)
			continue
		}

		if err := r.limiter.Acquire(ctx, tenantID); err != nil {
			if ctx.Err() != nil {
				return r.cancel(ctx, run, err)
			}
			return r.fail(ctx, run, step, NewTransientError("rate limiter unavailable", err).
				WithResource(step.ResourceKey))
		}

		run.log("Step %d/%d: %s", step.StepNumber, total, step.Description)

		resourceID, err := r.executeStep(ctx, tenantID, step)
		if err != nil {
			if ctx.Err() != nil {
				return r.cancel(ctx, run, err)
			}
			return r.fail(ctx, run, step, err)
		}

		run.status.DeployedResourceIDs[step.IdempotencyKey] = resourceID
		run.log("Step %d/%d: created %s (id %s)", step.StepNumber, total, step.ResourceKey, resourceID)
		r.persist(ctx, run.status)
	}

	run.status.Status = BuildStateSuccess
	run.log("Build %s completed: %d resources deployed", run.status.RunID, len(run.status.DeployedResourceIDs))
	if err := r.finish(ctx, run); err != nil {
		return run.status, err
	}
	return run.status, nil
}

func (r *BuildRunner) checkCredentials(ctx context.Context, tenantID string) error {
	creds, err := r.credentials.GetCredentials(ctx, tenantID)
	if err != nil {
		if IsNotFound(err) {
			return NewPermanentError(fmt.Sprintf("no credentials stored for location %s", tenantID), err).
				WithCode(ErrCodeCredentialsMissing).
				WithOperation("check_credentials")
		}
		return NewTransientError("failed to load credentials", err).
			WithCode(ErrCodeStorage).
			WithOperation("check_credentials")
	}

	if creds == nil || creds.AccessToken == "" {
		return NewPermanentError(fmt.Sprintf("no access token stored for location %s", tenantID), nil).
			WithCode(ErrCodeCredentialsMissing).
			WithOperation("check_credentials")
	}

	if creds.LocationID != "" && creds.LocationID != tenantID {
		return NewPermanentError(
			fmt.Sprintf("stored credentials belong to location %s, not %s", creds.LocationID, tenantID), nil,
		).WithCode(ErrCodeCredentialsMissing).WithOperation("check_credentials")
	}

	if creds.Expired(r.now()) {
		r.logger.Warn().
			Str("tenant_id", tenantID).
			Time("expires_at", creds.ExpiresAt).
			Msg("Access token has expired, calls may be rejected")
	}

	return nil
}

// resume copies deployed resource ids from a previous run of the same plan
// and returns how many were carried over.
func (r *BuildRunner) resume(ctx context.Context, status *BuildStatus) int {
	prev, err := r.statuses.GetBuildStatus(ctx, status.TenantID)
	if err != nil {
		if !IsNotFound(err) {
			r.logger.Warn().Err(err).Str("tenant_id", status.TenantID).
				Msg("Failed to load previous build status, starting fresh")
		}
		return 0
	}

	if prev.PlanHash != status.PlanHash {
		return 0
	}

	for key, id := range prev.DeployedResourceIDs {
		status.DeployedResourceIDs[key] = id
	}
	return len(prev.DeployedResourceIDs)
}

func (r *BuildRunner) executeStep(ctx context.Context, tenantID string, step *BuildStep) (string, error) {
	ctx, span := r.tracer.Start(ctx, "build.step",
		trace.WithAttributes(
			attribute.Int("step.number", step.StepNumber),
			attribute.String("step.kind", string(step.Kind)),
			attribute.String("step.resource_key", step.ResourceKey),
			attribute.String("http.method", step.Method),
			attribute.String("http.target", step.Endpoint),
		))
	defer span.End()

	start := r.now()
	resourceID, err := r.callClient(ctx, tenantID, step)
	seconds := r.now().Sub(start).Seconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.observer.RecordStep(string(step.Kind), "failed", seconds)
		return "", err
	}

	span.SetStatus(codes.Ok, "")
	r.observer.RecordStep(string(step.Kind), "created", seconds)
	return resourceID, nil
}

func (r *BuildRunner) callClient(ctx context.Context, tenantID string, step *BuildStep) (string, error) {
	resp, err := r.client.Create(ctx, ProvisionRequest{
		TenantID:       tenantID,
		Method:         step.Method,
		Endpoint:       step.Endpoint,
		Payload:        step.Payload,
		IdempotencyKey: step.IdempotencyKey,
	})
	if err != nil {
		var engineErr *EngineError
		if errors.As(err, &engineErr) {
			return "", err
		}
		return "", NewTransientError(fmt.Sprintf("step %d: provisioning call failed", step.StepNumber), err).
			WithCode(ErrCodeTransport).
			WithResource(step.ResourceKey).
			WithOperation(step.Method + " " + step.Endpoint)
	}

	r.observer.RecordProvisioningCall(string(step.Kind), resp.StatusCode)

	if !step.Expects(resp.StatusCode) {
		e := ClassifyHTTPStatus(resp.StatusCode, fmt.Sprintf("step %d: unexpected response status", step.StepNumber)).
			WithResource(step.ResourceKey).
			WithOperation(step.Method + " " + step.Endpoint)
		if len(resp.Body) > 0 {
			e.WithDetail("body", truncate(string(resp.Body), maxErrorBody))
		}
		return "", e
	}

	if resp.ResourceID == "" {
		return "", NewPermanentError(fmt.Sprintf("step %d: response did not include a resource id", step.StepNumber), nil).
			WithCode(ErrCodeUnexpectedStatus).
			WithResource(step.ResourceKey).
			WithOperation(step.Method + " " + step.Endpoint)
	}

	return resp.ResourceID, nil
}

func (r *BuildRunner) fail(ctx context.Context, run *buildRun, step *BuildStep, err error) (*BuildStatus, error) {
	run.status.Status = BuildStateFailed
	run.status.Error = err.Error()
	run.log("Step %d failed: %v", step.StepNumber, err)

	run.span.RecordError(err)
	run.span.SetStatus(codes.Error, err.Error())

	r.logger.Error().Err(err).
		Str("run_id", run.status.RunID).
		Str("tenant_id", run.status.TenantID).
		Int("step", step.StepNumber).
		Bool("retryable", IsRetryable(err)).
		Msg("Build failed")

	if saveErr := r.finish(ctx, run); saveErr != nil {
		r.logger.Error().Err(saveErr).Str("run_id", run.status.RunID).Msg("Failed to persist failed build")
	}
	return run.status, err
}

func (r *BuildRunner) cancel(ctx context.Context, run *buildRun, cause error) (*BuildStatus, error) {
	err := NewTransientError("build cancelled", cause).WithCode(ErrCodeCancelled)

	run.status.Status = BuildStateCancelled
	run.status.Error = err.Error()
	run.log("Build cancelled after %d of %d resources deployed", len(run.status.DeployedResourceIDs), len(run.plan.Steps))

	run.span.SetStatus(codes.Error, "cancelled")

	r.logger.Warn().
		Str("run_id", run.status.RunID).
		Str("tenant_id", run.status.TenantID).
		Msg("Build cancelled")

	if saveErr := r.finish(ctx, run); saveErr != nil {
		r.logger.Error().Err(saveErr).Str("run_id", run.status.RunID).Msg("Failed to persist cancelled build")
	}
	return run.status, err
}

// finish stamps and persists a terminal status. Persistence ignores
// cancellation of ctx so cancelled builds are still recorded.
func (r *BuildRunner) finish(ctx context.Context, run *buildRun) error {
	run.status.LastRunAt = r.now()
	r.observer.RecordBuildFinished(string(run.status.Status), r.now().Sub(run.start).Seconds())

	if run.status.Status == BuildStateSuccess {
		run.span.SetStatus(codes.Ok, "")
	}

	if err := r.statuses.SaveBuildStatus(context.WithoutCancel(ctx), run.status.Clone()); err != nil {
		return NewTransientError("failed to persist build status", err).
			WithCode(ErrCodeStorage).
			WithResource(run.status.TenantID)
	}
	return nil
}

// persist saves an intermediate status. Failures are logged and the build
// continues since the next save overwrites the record.
func (r *BuildRunner) persist(ctx context.Context, status *BuildStatus) {
	status.LastRunAt = r.now()
	if err := r.statuses.SaveBuildStatus(ctx, status.Clone()); err != nil {
		r.logger.Warn().Err(err).
			Str("run_id", status.RunID).
			Str("tenant_id", status.TenantID).
			Msg("Failed to persist build progress")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type noopObserver struct{}

func (noopObserver) RecordBuildStarted(int)              {}
func (noopObserver) RecordBuildFinished(string, float64) {}
func (noopObserver) RecordStep(string, string, float64)  {}
func (noopObserver) RecordProvisioningCall(string, int)  {}
