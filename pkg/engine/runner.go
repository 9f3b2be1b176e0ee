package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/host"
	"github.com/hostweave/hostweave/pkg/script"
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// DryRun plans every step and executes nothing.
	DryRun bool

	// ContinueOnError keeps running later steps after a step fails.
	ContinueOnError bool

	// RunID overrides the generated run identifier.
	RunID string

	// Scripts configures the per-run script runtime. Its Logger is replaced
	// with the runner's logger.
	Scripts script.Options

	// Now is the run clock. Defaults to time.Now.
	Now func() time.Time

	// Publisher receives timeline events. May be nil.
	Publisher EventPublisher
}

// Runner drives steps through plan and execute against one host.
//
// Steps run sequentially in order. Cancellation of the context passed to Run
// is observed only between steps; a step that has started runs to completion
// on a context detached from the run's cancellation.
type Runner struct {
	host   host.Executor
	logger zerolog.Logger
	opts   RunnerOptions
}

// NewRunner creates a runner for the given host.
func NewRunner(exec host.Executor, logger zerolog.Logger, opts RunnerOptions) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		host:   exec,
		logger: logger,
		opts:   opts,
	}
}

// Run executes steps and returns the report. The returned error is the one
// that failed or cancelled the run, also available as Report.Err.
func (r *Runner) Run(ctx context.Context, steps []Step) (*Report, error) {
	runID := r.opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	report := &Report{
		RunID:      runID,
		Status:     RunStatusPending,
		DryRun:     r.opts.DryRun,
		Target:     r.host.Name(),
		Steps:      make([]StepResult, len(steps)),
		FailedStep: -1,
		Executed:   []int{},
		StartedAt:  r.opts.Now(),
	}
	for i, step := range steps {
		report.Steps[i] = StepResult{
			Index:   i,
			Action:  step.Action,
			Summary: step.Summary,
			State:   StepPlanned,
		}
		if step.Atom != nil {
			report.Steps[i].Atom = step.Atom.String()
		}
	}

	logger := r.logger.With().Str("run_id", runID).Bool("dry_run", r.opts.DryRun).Logger()

	for i, step := range steps {
		if err := step.Validate(); err != nil {
			return r.finish(ctx, report, annotate(err, i, step.Action, "validate"))
		}
	}

	scriptOpts := r.opts.Scripts
	scriptOpts.Logger = logger
	runtime := script.NewRuntime(scriptOpts)
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close script runtime")
		}
	}()

	report.Status = RunStatusRunning
	r.publish(ctx, report, nil, EventTypeRunStarted, fmt.Sprintf("Run started with %d steps", len(steps)))
	logger.Info().Int("steps", len(steps)).Str("target", report.Target).Msg("Run started")

	stepCtx := context.WithoutCancel(ctx)

	var runErr error
	for i := range steps {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(steps); j++ {
				report.Steps[j].State = StepCancelled
			}
			runErr = NewCancelledError("run cancelled before step", err).WithStep(i)
			logger.Warn().Int("step", i).Err(err).Msg("Run cancelled")
			break
		}

		res := &report.Steps[i]
		env := &Env{
			Host:    r.host,
			Scripts: runtime,
			Logger:  logger.With().Int("step", i).Str("atom", steps[i].Atom.Kind()).Logger(),
			Now:     r.opts.Now,
		}

		r.runStep(env.Logger.WithContext(stepCtx), env, steps[i], res, report)

		if res.State != StepFailed {
			continue
		}
		if report.FailedStep < 0 {
			report.FailedStep = i
			runErr = res.Err
		}
		if !r.opts.ContinueOnError && !r.opts.DryRun {
			break
		}
	}

	return r.finish(ctx, report, runErr)
}

// runStep drives a single step through its state machine.
func (r *Runner) runStep(ctx context.Context, env *Env, step Step, res *StepResult, report *Report) {
	res.StartedAt = r.opts.Now()
	defer func() {
		res.CompletedAt = r.opts.Now()
		res.Duration = res.CompletedAt.Sub(res.StartedAt)
		r.publishStep(ctx, report, res)
	}()

	r.publish(ctx, report, res, EventTypeStepStarted, "Planning "+res.Atom)

	outcome, err := step.Atom.Plan(ctx, env)
	if err != nil {
		res.fail(annotate(err, res.Index, step.Action, "plan"))
		env.Logger.Error().Err(err).Msg("Step planning failed")
		return
	}
	res.Outcome = &outcome

	if !outcome.ShouldRun {
		r.move(res, StepSkipped)
		env.Logger.Info().Msg("Step skipped, nothing to do")
		return
	}
	if r.opts.DryRun {
		env.Logger.Info().Int("side_effects", len(outcome.SideEffects)).Msg("Step planned")
		return
	}

	r.move(res, StepInitializing)
	var primaryErr error
	for i, init := range step.Initializers {
		if err := init.Execute(ctx, env); err != nil {
			primaryErr = annotate(err, res.Index, step.Action, fmt.Sprintf("initializer[%d] %s", i, init.Kind()))
			env.Logger.Error().Err(err).Int("hook", i).Msg("Initializer failed")
			break
		}
	}

	if primaryErr == nil {
		r.move(res, StepExecuting)
		if err := step.Atom.Execute(ctx, env); err != nil {
			primaryErr = annotate(err, res.Index, step.Action, "execute")
			env.Logger.Error().Err(err).Bool("transient", IsTransient(primaryErr)).Msg("Atom execution failed")
		} else {
			report.Executed = append(report.Executed, res.Index)
		}
	}

	r.move(res, StepFinalizing)
	for i, fin := range step.Finalizers {
		if err := fin.Execute(ctx, env); err != nil {
			msg := fmt.Sprintf("finalizer[%d] %s: %v", i, fin.Kind(), err)
			res.HookErrors = append(res.HookErrors, msg)
			env.Logger.Warn().Err(err).Int("hook", i).Msg("Finalizer failed")
			r.publish(ctx, report, res, EventTypeHookFailed, msg)
		}
	}

	if primaryErr != nil {
		res.fail(primaryErr)
		return
	}
	r.move(res, StepDone)
}

// move applies a transition. The runner only requests legal transitions, so
// a rejection is a bug and fails the step instead of panicking.
func (r *Runner) move(res *StepResult, next StepState) {
	if err := res.transition(next); err != nil {
		r.logger.Error().Err(err).Msg("Step state machine violation")
		res.fail(err)
	}
}

func (r *Runner) finish(ctx context.Context, report *Report, runErr error) (*Report, error) {
	report.CompletedAt = r.opts.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	report.Err = runErr
	if runErr != nil {
		report.Error = runErr.Error()
	}

	summary := report.Summary()
	switch {
	case IsCancelled(runErr):
		report.Status = RunStatusCancelled
	case summary.Failed > 0 && r.opts.ContinueOnError && !r.opts.DryRun && summary.Failed < summary.Total:
		report.Status = RunStatusPartial
	case runErr != nil || summary.Failed > 0:
		report.Status = RunStatusFailed
	case r.opts.DryRun:
		report.Status = RunStatusPlanned
	default:
		report.Status = RunStatusSucceeded
	}

	eventType := EventTypeRunCompleted
	if report.Status == RunStatusFailed || report.Status == RunStatusCancelled {
		eventType = EventTypeRunFailed
	}
	r.publish(ctx, report, nil, eventType, fmt.Sprintf("Run finished with status %s", report.Status))

	r.logger.Info().
		Str("run_id", report.RunID).
		Str("status", string(report.Status)).
		Int("done", summary.Done).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", report.Duration).
		Msg("Run finished")

	return report, runErr
}

func (r *Runner) publishStep(ctx context.Context, report *Report, res *StepResult) {
	switch res.State {
	case StepSkipped:
		r.publish(ctx, report, res, EventTypeStepSkipped, "Skipped "+res.Atom)
	case StepFailed:
		r.publish(ctx, report, res, EventTypeStepFailed, res.Error)
	case StepDone:
		r.publish(ctx, report, res, EventTypeStepDone, "Done "+res.Atom)
	case StepPlanned:
		r.publish(ctx, report, res, EventTypeStepDone, "Planned "+res.Atom)
	}
}

func (r *Runner) publish(ctx context.Context, report *Report, res *StepResult, eventType EventType, message string) {
	if r.opts.Publisher == nil {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: r.opts.Now(),
		RunID:     report.RunID,
		StepIndex: -1,
		Message:   message,
		Level:     eventType.Severity(),
		Report:    report,
		Step:      res,
	}
	if res != nil {
		event.StepIndex = res.Index
	}

	if err := r.opts.Publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}

// annotate attaches step context to an atom error. Plain errors become
// execution failures, or transient ones when they report Temporary, as
// dropped SSH connections do.
func annotate(err error, index int, action, operation string) error {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		if engineErr.Step < 0 {
			engineErr.Step = index
		}
		if engineErr.Action == "" {
			engineErr.Action = action
		}
		if engineErr.Operation == "" {
			engineErr.Operation = operation
		}
		return err
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return NewTransientError(operation+" failed", err).
			WithStep(index).
			WithAction(action).
			WithOperation(operation)
	}
	return NewExecutionError(operation+" failed", err).
		WithStep(index).
		WithAction(action).
		WithOperation(operation)
}
