// Package engine provides the execution model of hostweave: atoms, steps and
// the runner that drives them against a host.
//
// # Overview
//
// A manifest action is compiled by the planner into one or more Steps. Each
// Step wraps a primary Atom with optional initializer and finalizer hooks:
//
//	Action --Plan--> []Step
//	Step   = {Atom, Initializers, Finalizers}
//	Atom   = Plan(ctx, env) (Outcome, error) + Execute(ctx, env) error
//
// # Outcome contract
//
// Atom.Plan never mutates the host. It returns an Outcome with a best-effort
// list of SideEffects and a ShouldRun flag. When ShouldRun is false the
// runner skips Execute and the step's hooks; this is how idempotency and dry
// runs work.
//
// # Step lifecycle
//
// For every step, in declaration order:
//
//  1. Plan the primary atom. A failure fails the step; no atom runs.
//  2. ShouldRun=false skips the step and its hooks.
//  3. Run initializers in order. The first failure skips the primary atom.
//  4. Run the primary atom.
//  5. Run finalizers in order, always. Their failures are recorded in
//     StepResult.HookErrors and never undo earlier effects.
//
// StepState encodes this as a validated state machine.
//
// # Runner
//
// The Runner is sequential. Context cancellation is checked between steps
// only, and the remaining steps are marked cancelled. The first failed step
// halts the run unless RunnerOptions.ContinueOnError is set. In dry-run mode
// every step is planned and nothing is executed.
//
// The Runner creates a script.Runtime per run, hands it to atoms through Env
// and closes it when the run ends.
//
// # Errors
//
// EngineError carries a class (validation, plan, execution, transient,
// cancelled) and a code. Sentinels such as ErrInvalidSchedule work with
// errors.Is:
//
//	if errors.Is(err, engine.ErrInvalidSchedule) {
//	    // report the offending input
//	}
package engine
