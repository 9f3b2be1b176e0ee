package contexts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hostweave/hostweave/pkg/script"
)

// ScriptProvider computes facts with a Starlark script that defines a
// facts() function returning a dict. Each top-level key becomes a fact.
// Scalar values are formatted as text; lists and dicts as JSON.
type ScriptProvider struct {
	prefix string
	file   string
	source []byte
	opts   script.Options
}

// NewScriptFileProvider loads facts from a script file on the host running weave.
func NewScriptFileProvider(prefix, file string, opts script.Options) *ScriptProvider {
	return &ScriptProvider{prefix: prefix, file: file, opts: opts}
}

// NewScriptProvider evaluates inline source.
func NewScriptProvider(prefix string, source []byte, opts script.Options) *ScriptProvider {
	return &ScriptProvider{prefix: prefix, file: prefix + ".star", source: source, opts: opts}
}

// Prefix implements Provider.
func (p *ScriptProvider) Prefix() string {
	return p.prefix
}

// Contexts implements Provider.
func (p *ScriptProvider) Contexts(ctx context.Context) ([]Context, error) {
	rt := script.NewRuntime(p.opts)
	defer rt.Close()

	var (
		module *script.Module
		err    error
	)
	if p.source != nil {
		module, err = rt.Load(ctx, p.file, p.source, nil)
	} else {
		module, err = rt.LoadFile(ctx, p.file, nil)
	}
	if err != nil {
		return nil, err
	}

	result, err := rt.CallFunction(ctx, module, "facts")
	if err != nil {
		return nil, err
	}

	var values map[string]any
	switch v := result.(type) {
	case map[string]any:
		values = v
	case []any:
		if len(v) != 0 {
			return nil, fmt.Errorf("%s: facts() must return a dict keyed by name", p.file)
		}
	default:
		return nil, fmt.Errorf("%s: facts() returned %T, want a dict", p.file, result)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	facts := make([]Context, 0, len(keys))
	for _, k := range keys {
		text, err := formatFact(values[k])
		if err != nil {
			return nil, fmt.Errorf("%s: fact %q: %w", p.file, k, err)
		}
		facts = append(facts, KeyValue(k, text))
	}
	return facts, nil
}

func formatFact(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case []any, map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case *script.FunctionHandle:
		return "", script.ErrOpaqueValue
	default:
		return fmt.Sprint(val), nil
	}
}
