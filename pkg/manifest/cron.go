package manifest

import (
	"fmt"

	"github.com/hostweave/hostweave/pkg/atoms/cron"
	"github.com/hostweave/hostweave/pkg/contexts"
	"github.com/hostweave/hostweave/pkg/engine"
)

// CronAdd installs a crontab job.
type CronAdd struct {
	Schedule    string `yaml:"schedule" json:"schedule" validate:"required" doc:"English phrase, cron expression, descriptor or full crontab line"`
	Command     string `yaml:"command,omitempty" json:"command,omitempty" doc:"Command to run; overrides one embedded in schedule"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty" doc:"Tag written above the job so it can be removed by name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	User        string `yaml:"user,omitempty" json:"user,omitempty" doc:"Crontab owner; defaults to the scope user"`
	Privileged  bool   `yaml:"privileged,omitempty" json:"privileged,omitempty"`
}

// Kind implements Action.
func (a *CronAdd) Kind() Kind { return KindCronAdd }

// Summarize implements Action.
func (a *CronAdd) Summarize() string {
	switch {
	case a.Name == "" && a.Description == "":
		return "Add cron item " + a.Schedule
	case a.Description == "":
		return fmt.Sprintf("Add cron item %s (%s)", a.Schedule, a.Name)
	}
	return fmt.Sprintf("Add cron item %s (%s: %s)", a.Schedule, a.Name, a.Description)
}

// Plan implements Action.
func (a *CronAdd) Plan(m *Manifest, c *contexts.Contexts) ([]engine.Step, error) {
	r := *a
	if err := render(c, &r.Schedule, &r.Command, &r.Name, &r.Description, &r.User); err != nil {
		return nil, err
	}

	schedule, err := cron.Parse(r.Schedule)
	if err != nil {
		return nil, err
	}
	command := r.Command
	if command == "" {
		command = schedule.Command
	}

	return []engine.Step{{
		Atom: &cron.Add{
			Schedule:    schedule,
			Command:     command,
			Name:        r.Name,
			Description: r.Description,
			User:        m.user(r.User),
			Privileged:  m.privileged(r.Privileged),
		},
		Action:  string(a.Kind()),
		Summary: a.Summarize(),
	}}, nil
}

// CronList reads a crontab.
type CronList struct {
	User       string `yaml:"user,omitempty" json:"user,omitempty" doc:"Crontab owner; defaults to the scope user"`
	Privileged bool   `yaml:"privileged,omitempty" json:"privileged,omitempty"`
}

// Kind implements Action.
func (a *CronList) Kind() Kind { return KindCronList }

// Summarize implements Action.
func (a *CronList) Summarize() string {
	user := a.User
	if user == "" {
		user = "current user"
	}
	return "List cron for user " + user
}

// Plan implements Action.
func (a *CronList) Plan(m *Manifest, c *contexts.Contexts) ([]engine.Step, error) {
	r := *a
	if err := render(c, &r.User); err != nil {
		return nil, err
	}
	return []engine.Step{{
		Atom:    &cron.List{User: m.user(r.User), Privileged: m.privileged(r.Privileged)},
		Action:  string(a.Kind()),
		Summary: a.Summarize(),
	}}, nil
}

// CronRemove deletes crontab jobs on a schedule, or the job tagged with
// name.
type CronRemove struct {
	Schedule   string `yaml:"schedule" json:"schedule" validate:"required" doc:"Schedule of the jobs to remove, in any form cron.add accepts"`
	Command    string `yaml:"command,omitempty" json:"command,omitempty" doc:"Only remove jobs running this command"`
	Name       string `yaml:"name,omitempty" json:"name,omitempty" doc:"Remove the job tagged with this name instead"`
	User       string `yaml:"user,omitempty" json:"user,omitempty" doc:"Crontab owner; defaults to the scope user"`
	Privileged bool   `yaml:"privileged,omitempty" json:"privileged,omitempty"`
}

// Kind implements Action.
func (a *CronRemove) Kind() Kind { return KindCronRemove }

// Summarize implements Action.
func (a *CronRemove) Summarize() string {
	return "Remove cron item " + a.Schedule
}

// Plan implements Action.
func (a *CronRemove) Plan(m *Manifest, c *contexts.Contexts) ([]engine.Step, error) {
	r := *a
	if err := render(c, &r.Schedule, &r.Command, &r.Name, &r.User); err != nil {
		return nil, err
	}

	schedule, err := cron.Parse(r.Schedule)
	if err != nil {
		return nil, err
	}
	command := r.Command
	if command == "" {
		command = schedule.Command
	}

	return []engine.Step{{
		Atom: &cron.Remove{
			Schedule:   schedule,
			Command:    command,
			Name:       r.Name,
			User:       m.user(r.User),
			Privileged: m.privileged(r.Privileged),
		},
		Action:  string(a.Kind()),
		Summary: a.Summarize(),
	}}, nil
}
