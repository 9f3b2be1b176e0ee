// Package telemetry provides logging, tracing and metrics for weave runs.
//
// Structured logging uses zerolog. Configure installs the process-wide
// logger from a LoggingConfig; NewLogger builds one without touching the
// globals. Tracing uses OpenTelemetry with a stdout
// or OTLP gRPC exporter. Metrics are Prometheus collectors on a private
// registry.
//
// # Usage
//
// Build telemetry from the settings file at startup:
//
//	cfg := telemetry.FromSettings(settings.Telemetry, version)
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Runs report through engine.EventPublisher. Hand the runner the telemetry
// publisher next to the journal:
//
//	runner := engine.NewRunner(exec, log, engine.RunnerOptions{
//	    Publisher: engine.Publishers{journal, tel.Publisher()},
//	})
//
// and feed provider timings from the context registry:
//
//	registry.SetObserver(tel.Metrics.ObserveProvider)
//
// # Logging
//
// Give each component its own logger. The CLI attaches the process logger
// to the command context and reads it back with FromContext:
//
//	ctx = telemetry.WithContext(ctx, telemetry.Logger{Logger: log.Logger})
//	plannerLog := telemetry.NewComponentLogger(telemetry.FromContext(ctx).Logger, "planner")
//
// The runner attaches each step's logger to the context its atoms receive,
// so zerolog.Ctx or FromContext inside an atom logs with run_id and step.
//
// # Spans
//
// Each run becomes a "run" span with one child span per step. Step spans
// carry the action, atom, and final state; failures record the error class
// and code of engine errors.
//
// # Metrics
//
// Counters and histograms cover runs (by status), steps (by action and
// state), finalizer failures, context providers (calls, errors, duration,
// fact counts), and errors by class and code. Serve exposes them over HTTP
// when telemetry.metrics_addr is set.
//
// # Event Logging
//
// LogEvents writes the run timeline to a zerolog logger. Filter narrows any
// publisher:
//
//	pub := telemetry.Filter(telemetry.LogEvents(log), telemetry.FilterByLevel("warning"))
package telemetry
