package telemetry

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Event levels, as set by engine.EventType.Severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventFilter determines if an event should be delivered.
type EventFilter func(event *engine.Event) bool

// Filter wraps pub so that it only sees events every filter accepts.
func Filter(pub engine.EventPublisher, filters ...EventFilter) engine.EventPublisher {
	return engine.EventPublisherFunc(func(ctx context.Context, event *engine.Event) error {
		for _, filter := range filters {
			if !filter(event) {
				return nil
			}
		}
		return pub.Publish(ctx, event)
	})
}

// FilterByLevel only allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event *engine.Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event *engine.Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID only allows events for one run.
func FilterByRunID(runID string) EventFilter {
	return func(event *engine.Event) bool {
		return event.RunID == runID
	}
}

// LogEvents returns a publisher that writes each event to logger at the
// event's level.
func LogEvents(logger zerolog.Logger) engine.EventPublisher {
	return engine.EventPublisherFunc(func(_ context.Context, event *engine.Event) error {
		l := Logger{logger}.WithRun(event.RunID)
		if event.Step != nil {
			l = l.WithStep(event.Step.Index, event.Step.Action)
		}

		var e *zerolog.Event
		switch event.Level {
		case EventLevelError:
			e = l.Error()
		case EventLevelWarning:
			e = l.Warn()
		default:
			e = l.Info()
		}

		e = e.Str("event", string(event.Type))
		if event.Step != nil && event.Step.Outcome != nil && event.Type == engine.EventTypeStepDone {
			e = e.Bool("should_run", event.Step.Outcome.ShouldRun).
				Int("side_effects", len(event.Step.Outcome.SideEffects))
		}
		if event.Report != nil && event.Report.Status.IsTerminal() && event.StepIndex < 0 {
			e = e.Str("status", string(event.Report.Status)).Dur("duration", event.Report.Duration)
		}
		e.Msg(event.Message)
		return nil
	})
}

// errorLabels returns the class and code of an engine error, or empty
// strings for anything else.
func errorLabels(err error) (class, code string) {
	var engErr *engine.EngineError
	if !errors.As(err, &engErr) {
		return "", ""
	}
	return string(engErr.Class), engErr.Code
}
