package engine

import (
	"encoding/json"
	"fmt"
	"slices"
)

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusPending indicates the run is created but no step has started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing steps.
	RunStatusRunning RunStatus = "running"

	// RunStatusPlanned indicates a dry run that planned every step.
	RunStatusPlanned RunStatus = "planned"

	// RunStatusSucceeded indicates every step finished or was skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run halted at a failed step.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run stopped at a step boundary because
	// its context was cancelled or its deadline passed.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusPartial indicates some steps failed while the run continued
	// past them (ContinueOnError).
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal reports whether the run has ended.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusPending, RunStatusRunning:
		return false
	}
	return s.Validate() == nil
}

// Validate rejects statuses weave does not know.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusPlanned, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// UnmarshalJSON refuses unknown statuses.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// StepState is the lifecycle state of a single step inside a run.
//
//	Planned -> Skipped
//	Planned -> Initializing -> Executing -> Finalizing -> Done
//	Initializing -> Finalizing              (initializer failed)
//	any non-terminal -> Failed
//	Planned -> Cancelled                    (never reached)
type StepState string

const (
	// StepPlanned indicates the step exists but its atoms have not run.
	StepPlanned StepState = "planned"

	// StepSkipped indicates the primary atom reported nothing to do.
	StepSkipped StepState = "skipped"

	// StepInitializing indicates initializer hooks are running.
	StepInitializing StepState = "initializing"

	// StepExecuting indicates the primary atom is running.
	StepExecuting StepState = "executing"

	// StepFinalizing indicates finalizer hooks are running.
	StepFinalizing StepState = "finalizing"

	// StepDone indicates the primary atom and every hook ran.
	StepDone StepState = "done"

	// StepFailed indicates planning, an initializer, or the primary atom failed.
	StepFailed StepState = "failed"

	// StepCancelled indicates the run was cancelled before reaching the step.
	StepCancelled StepState = "cancelled"
)

var stepTransitions = map[StepState][]StepState{
	StepPlanned:      {StepSkipped, StepInitializing, StepFailed, StepCancelled},
	StepInitializing: {StepExecuting, StepFinalizing, StepFailed},
	StepExecuting:    {StepFinalizing, StepFailed},
	StepFinalizing:   {StepDone, StepFailed},
}

// CanTransition reports whether a step may move from s to next.
func (s StepState) CanTransition(next StepState) bool {
	return slices.Contains(stepTransitions[s], next)
}

// IsTerminal reports whether no further transition is possible.
func (s StepState) IsTerminal() bool {
	return s.Validate() == nil && len(stepTransitions[s]) == 0
}

// Validate rejects states weave does not know.
func (s StepState) Validate() error {
	switch s {
	case StepPlanned, StepSkipped, StepInitializing, StepExecuting,
		StepFinalizing, StepDone, StepFailed, StepCancelled:
		return nil
	default:
		return fmt.Errorf("invalid step state: %s", s)
	}
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	EventTypeRunStarted   EventType = "run_started"
	EventTypeRunCompleted EventType = "run_completed"
	EventTypeRunFailed    EventType = "run_failed"
	EventTypeStepStarted  EventType = "step_started"
	EventTypeStepSkipped  EventType = "step_skipped"
	EventTypeStepDone     EventType = "step_done"
	EventTypeStepFailed   EventType = "step_failed"
	EventTypeHookFailed   EventType = "hook_failed"
	EventTypeWarning      EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeStepFailed:
		return "error"
	case EventTypeWarning, EventTypeHookFailed:
		return "warning"
	default:
		return "info"
	}
}
