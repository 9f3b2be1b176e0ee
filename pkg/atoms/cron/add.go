package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Add installs one crontab job.
type Add struct {
	Schedule    *Schedule `json:"schedule" validate:"required"`
	Command     string    `json:"command" validate:"required"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	User        string    `json:"user,omitempty"`
	Privileged  bool      `json:"privileged,omitempty"`
}

// Kind implements engine.Atom.
func (a *Add) Kind() string { return "cron.add" }

// RequiresPrivilege implements engine.Atom.
func (a *Add) RequiresPrivilege() bool { return a.Privileged }

func (a *Add) String() string {
	return fmt.Sprintf("cron.add privileged=%t user=%q name=%q schedule=%q command=%q",
		a.Privileged, a.User, a.Name, a.Schedule, a.Command)
}

func (a *Add) target() target {
	return target{user: a.User, privileged: a.Privileged}
}

// Entry builds the job line the atom maintains.
func (a *Add) Entry() (Entry, error) {
	if a.Schedule == nil {
		return Entry{}, engine.NewAtomInvalidError("cron.add needs a schedule", nil)
	}
	if a.Command == "" {
		return Entry{}, engine.NewAtomInvalidError(
			fmt.Sprintf("schedule %q has no command to run", a.Schedule.Input), nil)
	}
	expr, err := a.Schedule.Crontab()
	if err != nil {
		return Entry{}, err
	}
	return Entry{Schedule: expr, Command: a.Command, Name: a.Name, Description: a.Description}, nil
}

// Plan implements engine.Atom. The job is skipped when an identical line is
// already installed.
func (a *Add) Plan(ctx context.Context, env *engine.Env) (engine.Outcome, error) {
	entry, err := a.Entry()
	if err != nil {
		return engine.Outcome{}, err
	}

	table, err := a.target().read(ctx, env.Host)
	if err != nil {
		env.Logger.Debug().Err(err).Msg("crontab not readable; assuming change")
		return engine.Run(), nil
	}
	if table.Contains(entry) {
		return engine.NoChange(), nil
	}
	return engine.Run(engine.SideEffect{
		Kind:        engine.SideEffectWrite,
		Target:      a.target().String(),
		Description: "add " + entry.Line(),
	}), nil
}

// Execute implements engine.Atom.
func (a *Add) Execute(ctx context.Context, env *engine.Env) error {
	entry, err := a.Entry()
	if err != nil {
		return err
	}

	t := a.target()
	table, err := t.read(ctx, env.Host)
	if err != nil {
		return engine.NewExecutionError("cron.add", err)
	}
	if table.Add(entry) {
		if err := t.write(ctx, env, table); err != nil {
			return err
		}
	}

	if msg, ok := a.NextRun(env.Clock()); ok {
		env.Logger.Info().Str("schedule", a.Schedule.Input).Msg(msg)
	}
	return nil
}

// NextRun describes when the job fires next after now. ok is false for
// schedules without a clock time such as @reboot.
func (a *Add) NextRun(now time.Time) (msg string, ok bool) {
	next, ok := a.Schedule.Next(now)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Schedule %q (%s) to run %s will match next time at %s",
		a.Schedule.Input, a.Schedule.Expr, a.Command, next.Format(time.RFC3339)), true
}
