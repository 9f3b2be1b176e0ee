package cron

import (
	"context"
	"fmt"
	"sync"

	"github.com/hostweave/hostweave/pkg/engine"
)

// List reads a crontab and logs its jobs.
type List struct {
	User       string `json:"user,omitempty"`
	Privileged bool   `json:"privileged,omitempty"`

	mu      sync.Mutex
	entries []Entry
}

// Kind implements engine.Atom.
func (l *List) Kind() string { return "cron.list" }

// RequiresPrivilege implements engine.Atom.
func (l *List) RequiresPrivilege() bool { return l.Privileged }

func (l *List) String() string {
	return fmt.Sprintf("cron.list privileged=%t user=%q", l.Privileged, l.User)
}

func (l *List) target() target {
	return target{user: l.User, privileged: l.Privileged}
}

// Plan implements engine.Atom. Listing always runs.
func (l *List) Plan(context.Context, *engine.Env) (engine.Outcome, error) {
	return engine.Run(engine.SideEffect{
		Kind:        engine.SideEffectRead,
		Target:      l.target().String(),
		Description: "list jobs",
	}), nil
}

// Execute implements engine.Atom.
func (l *List) Execute(ctx context.Context, env *engine.Env) error {
	table, err := l.target().read(ctx, env.Host)
	if err != nil {
		return engine.NewExecutionError("cron.list", err)
	}

	entries := table.Entries()
	for _, e := range entries {
		env.Logger.Info().
			Str("schedule", e.Schedule).
			Str("command", e.Command).
			Str("name", e.Name).
			Msg("cron job")
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// Entries returns the jobs read by the last Execute.
func (l *List) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
