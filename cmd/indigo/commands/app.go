package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/indigoops/indigo/pkg/config"
	"github.com/indigoops/indigo/pkg/engine"
	"github.com/indigoops/indigo/pkg/platform"
	"github.com/indigoops/indigo/pkg/policy"
	"github.com/indigoops/indigo/pkg/ratelimit"
	"github.com/indigoops/indigo/pkg/stores"
	"github.com/indigoops/indigo/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// app holds the components a command needs. Components are created lazily so
// offline commands such as hash never touch the database.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger

	store       *stores.SQLiteStore
	policies    *policy.Engine
	unsubscribe func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}, nil
}

// openStore opens the SQLite store and starts persisting activity entries.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	store, err := stores.Open(ctx, a.cfg.Database, a.logger)
	if err != nil {
		return nil, err
	}

	a.store = store
	a.unsubscribe = a.tel.Activity.Subscribe(store.ActivitySink(ctx), nil)
	return store, nil
}

// policyEngine loads the built-in and configured policies. When watch is set
// and the config enables it, policy files are reloaded on change.
func (a *app) policyEngine(ctx context.Context, watch bool) (*policy.Engine, error) {
	if a.policies != nil {
		return a.policies, nil
	}

	cfg := a.cfg.Policy
	cfg.StepBudget = a.cfg.StepBudget()

	policies, err := policy.NewEngine(ctx, cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	if watch && cfg.Watch && len(cfg.Paths) > 0 {
		if err := policies.Watch(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Policy hot reload disabled")
		}
	}

	a.policies = policies
	return policies, nil
}

// provisioningClient returns the platform client, or the in-memory simulation.
func (a *app) provisioningClient(credentials engine.CredentialStore, simulate bool) (engine.ProvisioningClient, error) {
	if simulate {
		return platform.NewSimulatedClient(), nil
	}
	return platform.NewHTTPClient(a.cfg.Platform, credentials, platform.WithLogger(a.logger))
}

// buildRunner wires the runner with the store, limiter, policy gate and telemetry.
func (a *app) buildRunner(ctx context.Context, simulate bool) (*engine.BuildRunner, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	governor, err := ratelimit.NewGovernor(a.cfg.RateLimit, a.tel.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	policies, err := a.policyEngine(ctx, true)
	if err != nil {
		return nil, err
	}

	client, err := a.provisioningClient(store, simulate)
	if err != nil {
		return nil, err
	}

	return engine.NewBuildRunner(client, governor, store, store,
		engine.WithLogger(a.logger),
		engine.WithPlanGate(policies),
		engine.WithActivityLog(a.tel.Activity),
		engine.WithObserver(a.tel.Metrics),
		engine.WithTracer(a.tel.Tracer.Tracer()),
	), nil
}

// Close releases everything the app opened.
func (a *app) Close() error {
	var errs []error

	if a.policies != nil {
		errs = append(errs, a.policies.StopWatching())
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs = append(errs, a.tel.Shutdown(ctx))

	return errors.Join(errs...)
}
