// Package planner compiles a manifest and its resolved contexts into the
// ordered steps a run executes, and checks them against policy.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/contexts"
	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/manifest"
	"github.com/hostweave/hostweave/pkg/policy"
)

// ErrorMode decides what a plan error in one action does to the run.
type ErrorMode string

const (
	// ErrorModeAbort fails the whole plan on the first plan error.
	ErrorModeAbort ErrorMode = "abort"

	// ErrorModeSkip drops the failing action's steps and records a warning.
	ErrorModeSkip ErrorMode = "skip"
)

// Options configure a Planner.
type Options struct {
	// Errors is the plan-error mode. Empty means abort.
	Errors ErrorMode

	// Policy checks the compiled steps. Nil disables policy checks.
	Policy *policy.Engine

	// User is the login the plan will run as. Empty falls back to the
	// user.username context.
	User string

	// Root reports whether that login is root.
	Root bool

	// DryRun is passed to policies.
	DryRun bool

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// Warning records an action dropped in skip mode.
type Warning struct {
	Index   int    `json:"index"`
	Action  string `json:"action"`
	Summary string `json:"summary"`
	Err     error  `json:"-"`
	Message string `json:"message"`
}

// Plan is the compiled form of a manifest.
type Plan struct {
	Steps    []engine.Step
	Warnings []Warning
	Policy   *policy.Result
}

// Planner compiles manifests.
type Planner struct {
	opts   Options
	logger zerolog.Logger
}

// New creates a planner.
func New(logger zerolog.Logger, opts Options) *Planner {
	if opts.Errors == "" {
		opts.Errors = ErrorModeAbort
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Planner{opts: opts, logger: logger}
}

// Plan compiles every action of m in declaration order. Plan errors abort
// unless the planner runs in skip mode; validation errors always abort.
// When a policy denies the plan the compiled plan is returned together with
// the POLICY_DENIED error so callers can show the violations.
func (p *Planner) Plan(ctx context.Context, m *manifest.Manifest, c *contexts.Contexts) (*Plan, error) {
	plan := &Plan{}

	for i, a := range m.Actions {
		if err := ctx.Err(); err != nil {
			return nil, engine.NewCancelledError("planning cancelled", err)
		}

		steps, err := a.Plan(m, c)
		if err == nil {
			err = validateSteps(steps)
		}
		if err != nil {
			err = annotate(err, i, a)
			if p.opts.Errors == ErrorModeSkip && engine.IsPlan(err) {
				p.logger.Warn().Err(err).
					Int("index", i).
					Str("action", string(a.Kind())).
					Msg("Skipping action that failed to plan")
				plan.Warnings = append(plan.Warnings, Warning{
					Index:   i,
					Action:  string(a.Kind()),
					Summary: a.Summarize(),
					Err:     err,
					Message: err.Error(),
				})
				continue
			}
			return nil, err
		}

		plan.Steps = append(plan.Steps, steps...)
	}

	p.logger.Debug().
		Int("actions", len(m.Actions)).
		Int("steps", len(plan.Steps)).
		Int("skipped", len(plan.Warnings)).
		Msg("Manifest planned")

	if p.opts.Policy == nil {
		return plan, nil
	}

	input, err := policy.NewInput(plan.Steps, p.inputContext(m, c))
	if err != nil {
		return nil, engine.NewPlanError(engine.ErrCodeInternal, "failed to describe plan for policy", err)
	}
	result, err := p.opts.Policy.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}
	plan.Policy = result

	for _, w := range result.Warnings {
		p.logger.Warn().
			Str("policy", w.Policy).
			Int("step", w.Step).
			Msg(w.Message)
	}
	return plan, result.Err()
}

func (p *Planner) inputContext(m *manifest.Manifest, c *contexts.Contexts) policy.InputContext {
	user := p.opts.User
	if user == "" {
		user, _ = c.Get("user.username")
	}
	hostName := m.Scope.Host
	if m.Scope.IsLocal() {
		hostName = "local"
	}
	return policy.InputContext{
		User:            user,
		Root:            p.opts.Root,
		Host:            hostName,
		ScopePrivileged: m.Scope.Privileged,
		DryRun:          p.opts.DryRun,
		Timestamp:       p.opts.Now(),
	}
}

func validateSteps(steps []engine.Step) error {
	for _, s := range steps {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// annotate attaches the action's position and verb to err.
func annotate(err error, index int, a manifest.Action) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		if ee.Action == "" {
			ee.WithAction(string(a.Kind()))
		}
		return ee.WithDetail("index", index)
	}
	return engine.NewPlanError(engine.ErrCodeInternal,
		fmt.Sprintf("action %d (%s) failed to plan", index, a.Kind()), err).
		WithAction(string(a.Kind())).
		WithDetail("index", index)
}
