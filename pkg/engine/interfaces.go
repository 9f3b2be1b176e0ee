package engine

import (
	"context"
	"errors"
)

// EventPublisher receives run timeline events. The run journal, metrics and
// tracing each implement it.
type EventPublisher interface {
	// Publish handles an event. Errors are logged by the runner and never
	// change the run's outcome.
	Publish(ctx context.Context, event *Event) error
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, event *Event) error

// Publish calls f.
func (f EventPublisherFunc) Publish(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Publishers fans an event out to several publishers in order.
type Publishers []EventPublisher

// Publish delivers event to every publisher and joins their errors.
func (p Publishers) Publish(ctx context.Context, event *Event) error {
	var errs []error
	for _, pub := range p {
		if pub == nil {
			continue
		}
		if err := pub.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
