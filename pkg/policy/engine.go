package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/indigoops/indigo/pkg/engine"
)

// Engine evaluates rego policies against build plans. It implements
// engine.PlanGate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	cfg      Config
	logger   zerolog.Logger
	loader   *Loader
	now      func() time.Time
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies and any
// policies found under cfg.Paths.
func NewEngine(ctx context.Context, cfg Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		cfg:      cfg,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}
	e.loader = NewLoader(e.logger)

	if err := e.loadBuiltinPolicies(ctx); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	if len(cfg.Paths) > 0 {
		if err := e.LoadPolicies(ctx, cfg.Paths); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// CheckPlan denies plans with blocking violations. Warnings are logged.
func (e *Engine) CheckPlan(ctx context.Context, plan *engine.BuildPlan) error {
	result, err := e.Evaluate(ctx, plan)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("resource", w.Resource).
			Str("tenant_id", plan.TenantID).
			Msg(w.Message)
	}

	if result.Allowed {
		return nil
	}

	messages := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}

	return engine.NewPermanentError("build plan denied by policy", fmt.Errorf("%s", strings.Join(messages, "; "))).
		WithCode(engine.ErrCodePolicyViolation).
		WithOperation("policy").
		WithResource(result.Violations[0].Resource).
		WithDetail("violations", result.Violations)
}

// Evaluate runs every enabled policy against the plan. A policy that fails to
// evaluate is reported as a warning and does not block the plan.
func (e *Engine) Evaluate(ctx context.Context, plan *engine.BuildPlan) (*Result, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is required")
	}

	input, err := buildInput(plan, e.cfg.StepBudget)
	if err != nil {
		return nil, err
	}

	start := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		Allowed:           true,
		EvaluatedPolicies: make([]string, 0, len(e.policies)),
		EvaluatedAt:       start,
	}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("plan_hash", plan.PlanHash).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, Violation{
				Policy:   name,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(start)
	e.logger.Debug().
		Str("plan_hash", plan.PlanHash).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// buildInput converts a plan to the plain JSON document policies receive.
func buildInput(plan *engine.BuildPlan, stepBudget int) (map[string]interface{}, error) {
	in := planInput{
		TenantID: plan.TenantID,
		PlanHash: plan.PlanHash,
		Steps:    make([]stepInput, 0, len(plan.Steps)),
		Blueprint: &blueprintInput{
			DataModel: dataModelInput{
				CustomFields: []customFieldInput{},
				Tags:         []string{},
			},
			Pipelines: []pipelineInput{},
		},
		Limits: limitsInput{StepBudget: stepBudget},
	}

	for _, s := range plan.Steps {
		in.Steps = append(in.Steps, stepInput{
			StepNumber:  s.StepNumber,
			Kind:        string(s.Kind),
			ResourceKey: s.ResourceKey,
			Method:      s.Method,
			Endpoint:    s.Endpoint,
		})
	}

	if bp := plan.Blueprint; bp != nil {
		for _, f := range bp.DataModel.CustomFields {
			in.Blueprint.DataModel.CustomFields = append(in.Blueprint.DataModel.CustomFields,
				customFieldInput{Name: f.Name, DataType: f.DataType, Key: f.Key})
		}
		in.Blueprint.DataModel.Tags = append(in.Blueprint.DataModel.Tags, bp.DataModel.Tags...)
		for _, p := range bp.Pipelines {
			in.Blueprint.Pipelines = append(in.Blueprint.Pipelines,
				pipelineInput{Name: p.Name, Stages: append([]string{}, p.Stages...)})
		}
	}

	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return doc, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// deny is a set, returned as a slice.
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Resource != violations[j].Resource {
			return violations[i].Resource < violations[j].Resource
		}
		return violations[i].Message < violations[j].Message
	})

	return violations, nil
}

// createViolation converts a deny set member to a Violation.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			violation.Resource = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compilePolicy parses a policy and prepares its deny query.
func (e *Engine) compilePolicy(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy %s is empty", policy.Name)
	}

	query := module.Package.Path.String() + ".deny"

	prepared, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    prepared,
		compiled: e.now(),
	}, nil
}

// storePolicy compiles a policy and registers it. Caller holds e.mu.
func (e *Engine) storePolicy(ctx context.Context, policy *Policy) error {
	cp, err := e.compilePolicy(ctx, policy)
	if err != nil {
		return err
	}
	for _, name := range e.cfg.Disabled {
		if name == policy.Name {
			policy.Enabled = false
		}
	}
	e.policies[policy.Name] = cp

	e.logger.Debug().
		Str("policy", policy.Name).
		Bool("enabled", policy.Enabled).
		Msg("Policy compiled successfully")
	return nil
}

// loadBuiltinPolicies compiles the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.storePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return nil
}

// LoadPolicies loads and compiles policy files. Nothing is registered when
// any policy fails to compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplacePolicies(ctx, policies)
}

// ReplacePolicies swaps the file-loaded policies for policies, keeping the
// built-in ones. A file policy may not reuse a built-in name.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := &policies[i]
		cp, err := e.compilePolicy(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		if existing, ok := e.policies[name]; ok && existing.policy.Builtin {
			e.logger.Warn().Str("policy", name).Msg("Policy file shadows a built-in policy; ignored")
			continue
		}
		for _, disabled := range e.cfg.Disabled {
			if disabled == name {
				cp.policy.Enabled = false
			}
		}
		e.policies[name] = cp
	}

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded successfully")
	return nil
}

// Watch reloads cfg.Paths whenever a policy file changes, until ctx ends or
// StopWatching is called.
func (e *Engine) Watch(ctx context.Context) error {
	return e.loader.Watch(ctx, e.cfg.Paths, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
}

// StopWatching stops a running Watch.
func (e *Engine) StopWatching() error {
	return e.loader.StopWatching()
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
