package commands

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/hostweave/hostweave/pkg/contexts"
	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/host"
	"github.com/hostweave/hostweave/pkg/manifest"
	"github.com/hostweave/hostweave/pkg/planner"
	"github.com/hostweave/hostweave/pkg/stores"
	"github.com/hostweave/hostweave/pkg/telemetry"
)

// runOptions are the flags shared by plan, apply, and watch.
type runOptions struct {
	planErrors      string
	continueOnError bool
	dryRun          bool
}

// session is one manifest loaded against one host.
type session struct {
	app      *app
	path     string
	manifest *manifest.Manifest
	exec     host.Executor
	contexts *contexts.Contexts
	plan     *planner.Plan
}

// openSession loads the manifest at path, connects to its scope, and
// resolves contexts. The caller must Close the session.
func (a *app) openSession(ctx context.Context, path string) (*session, error) {
	m, err := a.codec.LoadFile(path)
	if err != nil {
		return nil, err
	}

	exec, err := a.executor(ctx, m.Scope)
	if err != nil {
		return nil, err
	}

	s := &session{app: a, path: path, manifest: m, exec: exec}
	reg, err := a.registry(exec)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.contexts, err = reg.Resolve(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close disconnects from the host.
func (s *session) Close() error {
	return s.exec.Close()
}

// Plan compiles the manifest. On a policy denial the plan is kept so the
// violations can be shown.
func (s *session) Plan(ctx context.Context, opts runOptions) error {
	policies, err := s.app.policies(ctx)
	if err != nil {
		return err
	}

	mode := planner.ErrorMode(firstNonEmpty(opts.planErrors, s.app.settings.PlanErrors))
	p := planner.New(telemetry.NewComponentLogger(s.app.logger, "planner").Logger, planner.Options{
		Errors: mode,
		Policy: policies,
		Root:   s.exec.IsRoot(),
		DryRun: opts.dryRun,
	})

	s.plan, err = p.Plan(ctx, s.manifest, s.contexts)
	return err
}

// Run executes the compiled plan, journaling it and feeding telemetry.
func (s *session) Run(ctx context.Context, opts runOptions) (*engine.Report, error) {
	if s.plan == nil {
		return nil, errors.New("session has no plan")
	}

	publishers := engine.Publishers{
		s.app.tel.Publisher(),
		telemetry.Filter(telemetry.LogEvents(s.app.tel.Logger), telemetry.FilterByLevel(telemetry.EventLevelWarning)),
	}

	store, err := s.app.journal(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		name := s.path
		if abs, err := filepath.Abs(s.path); err == nil {
			name = abs
		}
		publishers = append(publishers, stores.NewJournal(store, name))
	}

	runner := engine.NewRunner(s.exec, telemetry.NewComponentLogger(s.app.logger, "runner").Logger, engine.RunnerOptions{
		DryRun:          opts.dryRun,
		ContinueOnError: opts.continueOnError,
		Scripts:         s.app.scriptOptions(),
		Publisher:       publishers,
	})
	return runner.Run(ctx, s.plan.Steps)
}
