// Package telemetry provides the observability stack of the provisioning engine.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and the activity log into one Telemetry value built from
// configuration:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// The pieces plug into the build runner directly:
//
//	runner := engine.NewBuildRunner(client, limiter, store, store,
//	    engine.WithLogger(tel.Logger.Zerolog()),
//	    engine.WithTracer(tel.Tracer.Tracer()),
//	    engine.WithObserver(tel.Metrics),
//	    engine.WithActivityLog(tel.Activity),
//	)
//
// # Metrics
//
// With metrics enabled the following series are exported under the configured
// namespace:
//
//   - builds_started_total, builds_completed_total{status}
//   - build_duration_seconds{status}, active_builds
//   - steps_total{kind,outcome}, step_duration_seconds{kind}
//   - provisioning_calls_total{kind,code}
//   - ratelimit_wait_seconds, ratelimit_tokens
//
// # Activity log
//
// ActivityLog keeps the most recent entries in a fixed-size ring. Subscribers
// are called synchronously on Push, after the entry is stored.
package telemetry
