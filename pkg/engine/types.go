package engine

import (
	"time"
)

// Step is one unit of a run: a primary atom wrapped by optional hooks.
// A step owns its atoms; they are not shared with other steps.
type Step struct {
	// Atom is the primary operation.
	Atom Atom

	// Initializers run in order before Atom. The first failure aborts the
	// primary atom.
	Initializers []Atom

	// Finalizers run in order after Atom, including after a failure.
	Finalizers []Atom

	// Action is the manifest verb that produced the step, e.g. "cron.add".
	Action string

	// Summary is the producing action's human-readable intent.
	Summary string
}

// Validate checks that the step has a primary atom and no nil hooks.
func (s Step) Validate() error {
	if s.Atom == nil {
		return NewValidationError("step has no primary atom", nil).WithAction(s.Action)
	}
	for i, a := range s.Initializers {
		if a == nil {
			return NewValidationError("nil initializer", nil).WithAction(s.Action).WithDetail("index", i)
		}
	}
	for i, a := range s.Finalizers {
		if a == nil {
			return NewValidationError("nil finalizer", nil).WithAction(s.Action).WithDetail("index", i)
		}
	}
	return nil
}

// StepResult records what happened to one step.
type StepResult struct {
	// Index is the step's position in the run.
	Index int `json:"index"`

	// Action is the manifest verb that produced the step.
	Action string `json:"action,omitempty"`

	// Summary is the producing action's intent.
	Summary string `json:"summary,omitempty"`

	// Atom describes the primary atom.
	Atom string `json:"atom"`

	// State is the step's final state.
	State StepState `json:"state"`

	// Outcome is the primary atom's plan, nil if planning failed or never ran.
	Outcome *Outcome `json:"outcome,omitempty"`

	// Err is the error that failed the step.
	Err error `json:"-"`

	// Error is Err's message.
	Error string `json:"error,omitempty"`

	// HookErrors are finalizer failures. They do not fail the step.
	HookErrors []string `json:"hook_errors,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// transition moves the result to next, rejecting moves the state machine
// does not allow.
func (r *StepResult) transition(next StepState) error {
	if !r.State.CanTransition(next) {
		return newError(ErrorClassExecution, ErrCodeInternal,
			"invalid step transition "+string(r.State)+" -> "+string(next), nil).WithStep(r.Index)
	}
	r.State = next
	return nil
}

func (r *StepResult) fail(err error) {
	r.State = StepFailed
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// RunSummary holds per-state step counts.
type RunSummary struct {
	Total     int `json:"total"`
	Planned   int `json:"planned"`
	Done      int `json:"done"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Report is the result of one run.
type Report struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// DryRun is true when atoms were planned but not executed.
	DryRun bool `json:"dry_run"`

	// Target names the host the run was executed against.
	Target string `json:"target"`

	// Steps holds one result per step, in run order.
	Steps []StepResult `json:"steps"`

	// FailedStep is the index of the step that halted the run, or -1.
	FailedStep int `json:"failed_step"`

	// Executed lists indices of steps whose primary atom ran.
	Executed []int `json:"executed"`

	// Err is the error that ended the run early.
	Err error `json:"-"`

	// Error is Err's message.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Failed returns the result of the step that halted the run, if any.
func (r *Report) Failed() *StepResult {
	if r.FailedStep < 0 || r.FailedStep >= len(r.Steps) {
		return nil
	}
	return &r.Steps[r.FailedStep]
}

// Summary counts steps by state.
func (r *Report) Summary() RunSummary {
	summary := RunSummary{Total: len(r.Steps)}
	for _, step := range r.Steps {
		switch step.State {
		case StepPlanned:
			summary.Planned++
		case StepDone:
			summary.Done++
		case StepSkipped:
			summary.Skipped++
		case StepFailed:
			summary.Failed++
		case StepCancelled:
			summary.Cancelled++
		}
	}
	return summary
}

// Event is a point on the run timeline.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`

	// StepIndex is -1 for run-level events.
	StepIndex int    `json:"step_index"`
	Message   string `json:"message"`
	Level     string `json:"level"`

	// Report is the run as of this event.
	Report *Report `json:"-"`

	// Step is the step the event is about, nil for run-level events.
	Step *StepResult `json:"-"`
}
