package cron

import (
	"context"
	"fmt"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Remove deletes crontab jobs. With Name set it removes the job tagged with
// that name; otherwise every job on Schedule, narrowed to Command when given.
type Remove struct {
	Schedule   *Schedule `json:"schedule,omitempty"`
	Command    string    `json:"command,omitempty"`
	Name       string    `json:"name,omitempty"`
	User       string    `json:"user,omitempty"`
	Privileged bool      `json:"privileged,omitempty"`
}

// Kind implements engine.Atom.
func (r *Remove) Kind() string { return "cron.remove" }

// RequiresPrivilege implements engine.Atom.
func (r *Remove) RequiresPrivilege() bool { return r.Privileged }

func (r *Remove) String() string {
	return fmt.Sprintf("cron.remove privileged=%t user=%q name=%q schedule=%q command=%q",
		r.Privileged, r.User, r.Name, r.Schedule, r.Command)
}

func (r *Remove) target() target {
	return target{user: r.User, privileged: r.Privileged}
}

func (r *Remove) matcher() (func(Entry) bool, error) {
	if r.Name != "" {
		return func(e Entry) bool { return e.Name == r.Name }, nil
	}
	if r.Schedule == nil {
		return nil, engine.NewAtomInvalidError("cron.remove needs a schedule or a name", nil)
	}
	expr, err := r.Schedule.Crontab()
	if err != nil {
		return nil, err
	}
	return func(e Entry) bool {
		return sameSchedule(e.Schedule, expr) && (r.Command == "" || sameCommand(e.Command, r.Command))
	}, nil
}

// Plan implements engine.Atom. Nothing runs when no job matches.
func (r *Remove) Plan(ctx context.Context, env *engine.Env) (engine.Outcome, error) {
	match, err := r.matcher()
	if err != nil {
		return engine.Outcome{}, err
	}

	table, err := r.target().read(ctx, env.Host)
	if err != nil {
		env.Logger.Debug().Err(err).Msg("crontab not readable; assuming change")
		return engine.Run(), nil
	}
	n := table.Count(match)
	if n == 0 {
		return engine.NoChange(), nil
	}
	return engine.Run(engine.SideEffect{
		Kind:        engine.SideEffectDelete,
		Target:      r.target().String(),
		Description: fmt.Sprintf("remove %d job(s)", n),
	}), nil
}

// Execute implements engine.Atom.
func (r *Remove) Execute(ctx context.Context, env *engine.Env) error {
	match, err := r.matcher()
	if err != nil {
		return err
	}

	t := r.target()
	table, err := t.read(ctx, env.Host)
	if err != nil {
		return engine.NewExecutionError("cron.remove", err)
	}
	removed := table.Remove(match)
	if removed == 0 {
		return nil
	}
	env.Logger.Info().Int("removed", removed).Str("crontab", t.String()).Msg("crontab jobs removed")
	return t.write(ctx, env, table)
}
