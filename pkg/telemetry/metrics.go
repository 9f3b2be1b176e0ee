package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Metrics holds the Prometheus collectors fed by the run timeline and the
// context registry. It implements engine.EventPublisher.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	mu     sync.Mutex
	active map[string]struct{}

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	stepsFinished *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	hookFailures  *prometheus.CounterVec

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec
	providerFacts    *prometheus.GaugeVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry, so several
// instances can coexist in one process.
func NewMetrics(cfg MetricsConfig) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		config:   cfg,
		registry: reg,
		active:   make(map[string]struct{}),

		runsStarted:   counter("runs_started_total", "Runs started.", "dry_run"),
		runsCompleted: counter("runs_completed_total", "Runs finished, by status.", "status"),
		runDuration:   histogram("run_duration_seconds", "Run wall time.", "status"),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_runs", Help: "Runs in progress.",
		}),

		stepsFinished: counter("steps_total", "Steps finished, by action and final state.", "action", "state"),
		stepDuration:  histogram("step_duration_seconds", "Step wall time.", "action"),
		hookFailures:  counter("hook_failures_total", "Step finalizers that returned an error.", "action"),

		providerCalls:    counter("provider_calls_total", "Context provider resolutions.", "provider"),
		providerDuration: histogram("provider_call_duration_seconds", "Context provider resolution time.", "provider"),
		providerErrors:   counter("provider_errors_total", "Failed context provider resolutions.", "provider"),
		providerFacts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "provider_facts", Help: "Facts returned by the last resolution of each provider.",
		}, []string{"provider"}),

		errorsByClass: counter("errors_by_class_total", "Errors by class.", "class"),
		errorsByCode:  counter("errors_by_code_total", "Engine errors by code.", "code"),
	}
}

// Publish implements engine.EventPublisher.
func (m *Metrics) Publish(_ context.Context, event *engine.Event) error {
	switch event.Type {
	case engine.EventTypeRunStarted:
		dryRun := event.Report != nil && event.Report.DryRun
		m.runsStarted.WithLabelValues(boolLabel(dryRun)).Inc()
		m.track(event.RunID, true)

	case engine.EventTypeRunCompleted, engine.EventTypeRunFailed:
		// Runs rejected before they start were never tracked.
		m.track(event.RunID, false)
		if event.Report == nil {
			return nil
		}
		status := string(event.Report.Status)
		m.runsCompleted.WithLabelValues(status).Inc()
		m.runDuration.WithLabelValues(status).Observe(event.Report.Duration.Seconds())
		if event.Report.Err != nil {
			m.RecordError(event.Report.Err)
		}

	case engine.EventTypeStepDone, engine.EventTypeStepFailed, engine.EventTypeStepSkipped:
		if s := event.Step; s != nil {
			m.stepsFinished.WithLabelValues(s.Action, string(s.State)).Inc()
			m.stepDuration.WithLabelValues(s.Action).Observe(s.Duration.Seconds())
		}

	case engine.EventTypeHookFailed:
		if s := event.Step; s != nil {
			m.hookFailures.WithLabelValues(s.Action).Inc()
		}
	}
	return nil
}

// track adds or removes a run from the active set, keeping the gauge equal
// to its size.
func (m *Metrics) track(runID string, start bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, known := m.active[runID]
	switch {
	case start && !known:
		m.active[runID] = struct{}{}
	case !start && known:
		delete(m.active, runID)
	default:
		return
	}
	m.activeRuns.Set(float64(len(m.active)))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ObserveProvider records one provider resolution. Its signature matches
// contexts.Observer.
func (m *Metrics) ObserveProvider(prefix string, facts int, duration time.Duration, err error) {
	m.providerCalls.WithLabelValues(prefix).Inc()
	m.providerDuration.WithLabelValues(prefix).Observe(duration.Seconds())
	if err != nil {
		m.providerErrors.WithLabelValues(prefix).Inc()
		return
	}
	m.providerFacts.WithLabelValues(prefix).Set(float64(facts))
}

// RecordError counts err by class, and by code when it is an engine error.
func (m *Metrics) RecordError(err error) {
	class, code := errorLabels(err)
	if class == "" {
		class = "unknown"
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Handler serves the registry in the Prometheus or OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes the metrics endpoint until ctx is done. Without a listen
// address it returns at once.
func (m *Metrics) Serve(ctx context.Context) error {
	if m.config.ListenAddress == "" {
		return nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return err
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
