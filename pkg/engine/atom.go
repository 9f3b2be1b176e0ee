package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/host"
	"github.com/hostweave/hostweave/pkg/script"
)

// Atom is the smallest independently executable operation against a host.
// Atom parameters are fully resolved when the atom is built; nothing is
// looked up from contexts at execution time.
type Atom interface {
	// Kind is the atom type, e.g. "cron.add".
	Kind() string

	// String describes the atom with its parameters for logs and reports.
	String() string

	// RequiresPrivilege reports whether the atom's commands must be elevated.
	RequiresPrivilege() bool

	// Plan inspects the host without changing it and predicts what Execute
	// would do.
	Plan(ctx context.Context, env *Env) (Outcome, error)

	// Execute performs the operation.
	Execute(ctx context.Context, env *Env) error
}

// Env is what an atom may touch while it plans or executes.
type Env struct {
	// Host runs commands on the target.
	Host host.Executor

	// Scripts is the script runtime for the current run.
	Scripts *script.Runtime

	// Logger is scoped to the current run and step.
	Logger zerolog.Logger

	// Now is the run clock.
	Now func() time.Time
}

// Clock returns the current time from Now, falling back to time.Now.
func (e *Env) Clock() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// SideEffectKind classifies a predicted side effect.
type SideEffectKind string

const (
	SideEffectRead   SideEffectKind = "read"
	SideEffectWrite  SideEffectKind = "write"
	SideEffectDelete SideEffectKind = "delete"
	SideEffectExec   SideEffectKind = "exec"
)

// SideEffect is one predicted change on the host.
type SideEffect struct {
	Kind        SideEffectKind `json:"kind"`
	Target      string         `json:"target,omitempty"`
	Description string         `json:"description"`
}

// Outcome is an atom's prediction of its own execution.
//
// ShouldRun false means Execute must not be called and the step's hooks are
// skipped. SideEffects is best effort and may be empty even when ShouldRun
// is true.
type Outcome struct {
	SideEffects []SideEffect `json:"side_effects,omitempty"`
	ShouldRun   bool         `json:"should_run"`
}

// NoChange is the Outcome of an atom whose desired state already holds.
func NoChange() Outcome {
	return Outcome{ShouldRun: false}
}

// Run returns an Outcome that executes with the given side effects.
func Run(effects ...SideEffect) Outcome {
	return Outcome{SideEffects: effects, ShouldRun: true}
}
