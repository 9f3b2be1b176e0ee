package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hostweave/hostweave/pkg/atoms/scripted"
	"github.com/hostweave/hostweave/pkg/contexts"
	"github.com/hostweave/hostweave/pkg/engine"
)

// ScriptRun runs a Starlark program's execute(host) function. Functions
// named in initializers and finalizers run before and after it with the
// same host handle.
type ScriptRun struct {
	Name         string   `yaml:"name,omitempty" json:"name,omitempty"`
	Source       string   `yaml:"source,omitempty" json:"source,omitempty" validate:"required_without=File,excluded_with=File" doc:"Inline Starlark program"`
	File         string   `yaml:"file,omitempty" json:"file,omitempty" validate:"required_without=Source,excluded_with=Source" doc:"Path to a Starlark file, relative to the manifest"`
	Initializers []string `yaml:"initializers,omitempty" json:"initializers,omitempty" doc:"Functions called before execute"`
	Finalizers   []string `yaml:"finalizers,omitempty" json:"finalizers,omitempty" doc:"Functions called after execute, even when it fails"`
	Privileged   bool     `yaml:"privileged,omitempty" json:"privileged,omitempty"`
}

// Kind implements Action.
func (a *ScriptRun) Kind() Kind { return KindScriptRun }

// Summarize implements Action.
func (a *ScriptRun) Summarize() string {
	return "Run script " + a.displayName()
}

func (a *ScriptRun) displayName() string {
	switch {
	case a.Name != "":
		return a.Name
	case a.File != "":
		return a.File
	default:
		return "inline"
	}
}

// Plan implements Action. The program text is read here so every atom of
// the step runs the same source.
func (a *ScriptRun) Plan(m *Manifest, c *contexts.Contexts) ([]engine.Step, error) {
	r := *a
	if err := render(c, &r.File); err != nil {
		return nil, err
	}

	filename := r.displayName() + ".star"
	source := []byte(r.Source)
	if r.File != "" {
		path := r.File
		if !filepath.IsAbs(path) && m != nil && m.Dir != "" {
			path = filepath.Join(m.Dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("read script %s", r.File), err)
		}
		filename, source = path, data
	}

	privileged := m.privileged(r.Privileged)
	atom := func(function string) engine.Atom {
		return &scripted.Script{
			Filename:   filename,
			Source:     source,
			Function:   function,
			Contexts:   c.Map(),
			Privileged: privileged,
		}
	}

	step := engine.Step{
		Atom:    atom(scripted.DefaultFunction),
		Action:  string(a.Kind()),
		Summary: a.Summarize(),
	}
	for _, fn := range r.Initializers {
		step.Initializers = append(step.Initializers, atom(fn))
	}
	for _, fn := range r.Finalizers {
		step.Finalizers = append(step.Finalizers, atom(fn))
	}
	return []engine.Step{step}, nil
}
