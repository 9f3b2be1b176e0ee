package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Journal records runs as the runner reports them. It implements
// engine.EventPublisher.
type Journal struct {
	store    Store
	manifest string
}

// NewJournal returns a journal writing to store. manifest names the file
// the runs come from.
func NewJournal(store Store, manifest string) *Journal {
	return &Journal{store: store, manifest: manifest}
}

// Publish implements engine.EventPublisher. Run events upsert the run row;
// step events upsert the step; every event is appended to the timeline.
func (j *Journal) Publish(ctx context.Context, event *engine.Event) error {
	if event.Report == nil {
		return fmt.Errorf("event %s carries no report", event.Type)
	}

	var errs []error
	switch event.Type {
	case engine.EventTypeRunStarted:
		errs = append(errs, j.store.UpsertRun(ctx, j.run(event.Report)))
	case engine.EventTypeRunCompleted, engine.EventTypeRunFailed:
		// Runs that fail validation finish without a start event.
		errs = append(errs, j.store.UpsertRun(ctx, j.run(event.Report)))
		for i := range event.Report.Steps {
			errs = append(errs, j.store.UpsertStep(ctx, stepRecord(event.Report.RunID, &event.Report.Steps[i])))
		}
	default:
		if event.Step != nil {
			errs = append(errs, j.store.UpsertStep(ctx, stepRecord(event.Report.RunID, event.Step)))
		}
	}

	errs = append(errs, j.store.AppendEvent(ctx, &Event{
		RunID:     event.RunID,
		StepIndex: event.StepIndex,
		Type:      event.Type,
		Level:     event.Level,
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}))
	return errors.Join(errs...)
}

func (j *Journal) run(r *engine.Report) *Run {
	run := &Run{
		ID:         r.RunID,
		Manifest:   j.manifest,
		Target:     r.Target,
		Status:     r.Status,
		DryRun:     r.DryRun,
		Steps:      len(r.Steps),
		FailedStep: r.FailedStep,
		StartedAt:  r.StartedAt,
	}
	if r.Error != "" {
		msg := r.Error
		run.Error = &msg
	}
	if r.Status.IsTerminal() {
		completed := r.CompletedAt
		run.CompletedAt = &completed
	}
	return run
}

func stepRecord(runID string, res *engine.StepResult) *StepRecord {
	rec := &StepRecord{
		RunID:      runID,
		Index:      res.Index,
		Action:     res.Action,
		Summary:    res.Summary,
		Atom:       res.Atom,
		State:      res.State,
		HookErrors: res.HookErrors,
		Duration:   res.Duration,
	}
	if res.Outcome != nil {
		shouldRun := res.Outcome.ShouldRun
		rec.ShouldRun = &shouldRun
		rec.SideEffects = res.Outcome.SideEffects
	}
	if res.Error != "" {
		msg := res.Error
		rec.Error = &msg
	}
	return rec
}
