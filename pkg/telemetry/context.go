package telemetry

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Telemetry bundles the logger, tracer and metrics of one weave process.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config

	spans *Spans
}

// New creates a telemetry instance from configuration. Run events are
// logged through logger.
func New(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracer, err := NewTracer(ctx, cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
		Config:  cfg,
		spans:   NewSpans(tracer),
	}, nil
}

// Publisher returns the publisher feeding metrics and spans from the run
// timeline.
func (t *Telemetry) Publisher() engine.EventPublisher {
	return engine.Publishers{t.Metrics, t.spans}
}

// ServeMetrics exposes the metrics endpoint until ctx is done, when an
// address is configured.
func (t *Telemetry) ServeMetrics(ctx context.Context) error {
	return t.Metrics.Serve(ctx)
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}
