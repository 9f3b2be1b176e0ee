// Package manifest defines the declarative document weave applies: an
// ordered list of actions with an optional scope, its YAML codec, and the
// shapes used for validation and schema export.
package manifest

import (
	"fmt"
	"sort"

	"github.com/hostweave/hostweave/pkg/contexts"
	"github.com/hostweave/hostweave/pkg/engine"
)

// Kind is an action verb as written in a manifest.
type Kind string

const (
	KindCronAdd    Kind = "cron.add"
	KindCronList   Kind = "cron.list"
	KindCronRemove Kind = "cron.remove"
	KindScriptRun  Kind = "script.run"
)

// Action is one declarative record of a manifest. Actions are immutable
// once decoded; Plan compiles an action into steps without touching the
// host.
type Action interface {
	Kind() Kind

	// Summarize describes the action's intent for plans and logs.
	Summarize() string

	// Plan resolves {{ prefix.key }} references against c and builds the
	// steps that carry the action out.
	Plan(m *Manifest, c *contexts.Contexts) ([]engine.Step, error)
}

// kinds is the dispatch table from verb to action type.
var kinds = map[Kind]func() Action{
	KindCronAdd:    func() Action { return &CronAdd{} },
	KindCronList:   func() Action { return &CronList{} },
	KindCronRemove: func() Action { return &CronRemove{} },
	KindScriptRun:  func() Action { return &ScriptRun{} },
}

// New returns an empty action of the given kind.
func New(kind Kind) (Action, error) {
	ctor, ok := kinds[kind]
	if !ok {
		return nil, engine.NewValidationError(fmt.Sprintf("unknown action %q", kind), nil).
			WithCode(engine.ErrCodeUnknownAction)
	}
	return ctor(), nil
}

// Kinds lists the known verbs, sorted.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Scope says where and as whom a manifest applies.
type Scope struct {
	// Host is empty or "local" for this machine, otherwise
	// [ssh://][user@]host[:port].
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// User is whose resources actions manage when they name no user.
	User string `yaml:"user,omitempty" json:"user,omitempty"`

	// Privileged elevates every action.
	Privileged bool `yaml:"privileged,omitempty" json:"privileged,omitempty"`
}

// IsLocal reports whether the scope targets this machine.
func (s Scope) IsLocal() bool {
	return s.Host == "" || s.Host == "local"
}

// Manifest is an ordered list of actions. Actions apply in declaration
// order.
type Manifest struct {
	Scope   Scope
	Actions []Action

	// Dir is the directory relative file references resolve against.
	Dir string
}

// user returns the effective user for an action.
func (m *Manifest) user(actionUser string) string {
	if actionUser != "" || m == nil {
		return actionUser
	}
	return m.Scope.User
}

// privileged returns the effective privilege flag for an action.
func (m *Manifest) privileged(actionPrivileged bool) bool {
	return actionPrivileged || (m != nil && m.Scope.Privileged)
}

// render substitutes context references in each field in place.
func render(c *contexts.Contexts, fields ...*string) error {
	for _, f := range fields {
		out, err := c.Render(*f)
		if err != nil {
			return err
		}
		*f = out
	}
	return nil
}
