package policy

import (
	"encoding/json"
	"fmt"

	"github.com/hostweave/hostweave/pkg/engine"
)

// omittedParams are atom fields too large or too sensitive for policy input.
var omittedParams = []string{"source", "contexts"}

// NewInput describes steps for evaluation. Atom parameters are taken from
// the atoms' JSON encoding.
func NewInput(steps []engine.Step, ictx InputContext) (*Input, error) {
	in := &Input{Steps: make([]StepInput, 0, len(steps)), Context: ictx}
	for i, s := range steps {
		if s.Atom == nil {
			continue
		}
		params, err := atomParams(s.Atom)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		in.Steps = append(in.Steps, StepInput{
			Index:      i,
			Action:     s.Action,
			Summary:    s.Summary,
			Kind:       s.Atom.Kind(),
			Privileged: s.Atom.RequiresPrivilege(),
			Params:     params,
			Hooks:      len(s.Initializers) + len(s.Finalizers),
		})
	}
	return in, nil
}

func atomParams(a engine.Atom) (map[string]any, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s atom: %w", a.Kind(), err)
	}
	params := map[string]any{}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("%s atom does not encode to an object: %w", a.Kind(), err)
	}
	for _, k := range omittedParams {
		delete(params, k)
	}
	return params, nil
}
