package stores

import (
	"context"
	"time"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Run is a journaled run.
type Run struct {
	ID          string           `json:"id"`
	Manifest    string           `json:"manifest"`
	Target      string           `json:"target"`
	Status      engine.RunStatus `json:"status"`
	DryRun      bool             `json:"dry_run"`
	Steps       int              `json:"steps"`
	FailedStep  int              `json:"failed_step"`
	Error       *string          `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// StepRecord is the journaled result of one step.
type StepRecord struct {
	RunID       string              `json:"run_id"`
	Index       int                 `json:"index"`
	Action      string              `json:"action"`
	Summary     string              `json:"summary"`
	Atom        string              `json:"atom"`
	State       engine.StepState    `json:"state"`
	ShouldRun   *bool               `json:"should_run,omitempty"`
	SideEffects []engine.SideEffect `json:"side_effects"`
	Error       *string             `json:"error,omitempty"`
	HookErrors  []string            `json:"hook_errors"`
	Duration    time.Duration       `json:"duration"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Event is an append-only timeline entry.
type Event struct {
	ID        int64            `json:"id"`
	RunID     string           `json:"run_id"`
	StepIndex int              `json:"step_index"`
	Type      engine.EventType `json:"type"`
	Level     string           `json:"level"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// Store is what a Journal writes through.
type Store interface {
	UpsertRun(ctx context.Context, run *Run) error
	UpsertStep(ctx context.Context, step *StepRecord) error
	AppendEvent(ctx context.Context, event *Event) error
}

var _ Store = (*SQLiteStore)(nil)
