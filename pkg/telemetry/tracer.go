package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Common attribute keys for run tracing.
var (
	AttrRunID      = attribute.Key("run.id")
	AttrRunStatus  = attribute.Key("run.status")
	AttrRunDryRun  = attribute.Key("run.dry_run")
	AttrTargetHost = attribute.Key("target.host")

	AttrStepIndex = attribute.Key("step.index")
	AttrStepState = attribute.Key("step.state")
	AttrAction    = attribute.Key("action")
	AttrAtom      = attribute.Key("atom")

	AttrErrorClass = attribute.Key("error.class")
	AttrErrorCode  = attribute.Key("error.code")
)

// Tracer owns the span provider of one weave process.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a provider exporting through cfg.Exporter and installs it
// as the global one. With the none exporter spans are still created, so
// Spans works the same, but nothing ships them.
func NewTracer(ctx context.Context, cfg TracingConfig, serviceName, serviceVersion string) (*Tracer, error) {
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("trace exporter %s: %w", cfg.Exporter, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", serviceVersion),
	))
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithExportTimeout(cfg.ExportTimeout)))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return NewTracerWithProvider(provider, serviceName), nil
}

// NewTracerWithProvider wraps an existing provider.
func NewTracerWithProvider(provider *sdktrace.TracerProvider, name string) *Tracer {
	return &Tracer{provider: provider, tracer: provider.Tracer(name)}
}

// newExporter returns nil for the none exporter.
func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		creds := credentials.NewTLS(nil)
		if cfg.Insecure {
			creds = insecure.NewCredentials()
		}
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTLSCredentials(creds),
			otlptracegrpc.WithTimeout(cfg.ExportTimeout),
		)
	}
	return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
}

// Start begins a span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown exports pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return errors.Join(t.provider.ForceFlush(ctx), t.provider.Shutdown(ctx))
}

// RecordError records an error on span, with its class and code for
// engine errors.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if class, code := errorLabels(err); class != "" {
		span.SetAttributes(AttrErrorClass.String(class))
		if code != "" {
			span.SetAttributes(AttrErrorCode.String(code))
		}
	}
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Spans turns the run timeline into one span per run with a child span per
// step. It implements engine.EventPublisher.
type Spans struct {
	tracer *Tracer

	mu   sync.Mutex
	runs map[string]*runSpans
}

type runSpans struct {
	ctx   context.Context
	span  trace.Span
	steps map[int]trace.Span
}

// NewSpans creates a span publisher on t.
func NewSpans(t *Tracer) *Spans {
	return &Spans{tracer: t, runs: make(map[string]*runSpans)}
}

// Publish implements engine.EventPublisher.
func (s *Spans) Publish(ctx context.Context, event *engine.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case engine.EventTypeRunStarted:
		s.startRun(ctx, event)

	case engine.EventTypeStepStarted:
		run := s.run(ctx, event)
		if event.Step == nil {
			return nil
		}
		_, span := s.tracer.Start(run.ctx, "step "+event.Step.Action,
			trace.WithTimestamp(event.Timestamp),
			trace.WithAttributes(
				AttrStepIndex.Int(event.Step.Index),
				AttrAction.String(event.Step.Action),
				AttrAtom.String(event.Step.Atom),
			),
		)
		run.steps[event.Step.Index] = span

	case engine.EventTypeHookFailed:
		if run, ok := s.runs[event.RunID]; ok {
			if span, ok := run.steps[event.StepIndex]; ok {
				span.AddEvent("hook_failed", trace.WithAttributes(attribute.String("message", event.Message)))
			}
		}

	case engine.EventTypeStepDone, engine.EventTypeStepSkipped, engine.EventTypeStepFailed:
		run, ok := s.runs[event.RunID]
		if !ok || event.Step == nil {
			return nil
		}
		span, ok := run.steps[event.Step.Index]
		if !ok {
			return nil
		}
		delete(run.steps, event.Step.Index)
		span.SetAttributes(AttrStepState.String(string(event.Step.State)))
		if event.Step.Err != nil {
			RecordError(span, event.Step.Err)
		} else {
			RecordSuccess(span)
		}
		span.End(trace.WithTimestamp(event.Timestamp))

	case engine.EventTypeRunCompleted, engine.EventTypeRunFailed:
		run := s.run(ctx, event)
		delete(s.runs, event.RunID)
		for _, span := range run.steps {
			span.SetStatus(codes.Error, "run ended")
			span.End(trace.WithTimestamp(event.Timestamp))
		}
		if event.Report != nil {
			run.span.SetAttributes(AttrRunStatus.String(string(event.Report.Status)))
			if event.Report.Err != nil {
				RecordError(run.span, event.Report.Err)
			} else {
				RecordSuccess(run.span)
			}
		}
		run.span.End(trace.WithTimestamp(event.Timestamp))
	}
	return nil
}

// run returns the spans of event's run, starting the run span when the
// runner never announced it.
func (s *Spans) run(ctx context.Context, event *engine.Event) *runSpans {
	if run, ok := s.runs[event.RunID]; ok {
		return run
	}
	return s.startRun(ctx, event)
}

func (s *Spans) startRun(ctx context.Context, event *engine.Event) *runSpans {
	attrs := []attribute.KeyValue{AttrRunID.String(event.RunID)}
	if event.Report != nil {
		attrs = append(attrs,
			AttrRunDryRun.Bool(event.Report.DryRun),
			AttrTargetHost.String(event.Report.Target),
		)
	}
	runCtx, span := s.tracer.Start(ctx, "run",
		trace.WithTimestamp(event.Timestamp),
		trace.WithAttributes(attrs...),
	)
	run := &runSpans{ctx: runCtx, span: span, steps: make(map[int]trace.Span)}
	s.runs[event.RunID] = run
	return run
}
