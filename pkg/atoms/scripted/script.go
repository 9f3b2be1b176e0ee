// Package scripted runs Starlark functions as atoms. A script.run action
// becomes one Script atom for its execute function plus one per declared
// initializer and finalizer.
package scripted

import (
	"context"
	"errors"
	"fmt"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/host"
	"github.com/hostweave/hostweave/pkg/script"
)

// DefaultFunction is called when a Script names no function.
const DefaultFunction = "execute"

// Script calls one top-level function of a Starlark program with a host
// handle exposing run(*argv) and write_file(path, content).
//
// When the program defines plan(), the primary atom calls it during Plan. It
// may return a bool (should run) or a dict with should_run and a
// side_effects list of strings.
type Script struct {
	Filename   string         `json:"filename" validate:"required"`
	Source     []byte         `json:"source" validate:"required"`
	Function   string         `json:"function,omitempty"`
	Contexts   map[string]any `json:"contexts,omitempty"`
	Privileged bool           `json:"privileged,omitempty"`
}

// Kind implements engine.Atom.
func (s *Script) Kind() string { return "script" }

// RequiresPrivilege implements engine.Atom.
func (s *Script) RequiresPrivilege() bool { return s.Privileged }

func (s *Script) String() string {
	return fmt.Sprintf("script %s:%s privileged=%t", s.Filename, s.function(), s.Privileged)
}

func (s *Script) function() string {
	if s.Function == "" {
		return DefaultFunction
	}
	return s.Function
}

func (s *Script) load(ctx context.Context, env *engine.Env) (*script.Module, error) {
	if env.Scripts == nil {
		return nil, engine.NewAtomInvalidError("no script runtime for "+s.Filename, nil)
	}
	m, err := env.Scripts.Load(ctx, s.Filename, s.Source, map[string]any{"contexts": s.Contexts})
	if err != nil {
		return nil, engine.NewAtomInvalidError("load "+s.Filename, err)
	}
	if _, err := m.Function(s.function()); err != nil {
		return nil, engine.NewAtomInvalidError(fmt.Sprintf("%s has no function %s", s.Filename, s.function()), err)
	}
	return m, nil
}

// Plan implements engine.Atom.
func (s *Script) Plan(ctx context.Context, env *engine.Env) (engine.Outcome, error) {
	m, err := s.load(ctx, env)
	if err != nil {
		return engine.Outcome{}, err
	}

	effect := engine.SideEffect{
		Kind:        engine.SideEffectExec,
		Target:      s.Filename,
		Description: "call " + s.function(),
	}
	if !m.Has("plan") {
		return engine.Run(effect), nil
	}

	result, err := env.Scripts.CallFunction(ctx, m, "plan")
	if err != nil {
		return engine.Outcome{}, engine.NewExecutionError(s.Filename+": plan", err)
	}
	return decodeOutcome(result, effect)
}

func decodeOutcome(result any, fallback engine.SideEffect) (engine.Outcome, error) {
	switch v := result.(type) {
	case nil:
		return engine.Run(fallback), nil
	case bool:
		if !v {
			return engine.NoChange(), nil
		}
		return engine.Run(fallback), nil
	case map[string]any:
		shouldRun, ok := v["should_run"].(bool)
		if !ok {
			return engine.Outcome{}, engine.NewAtomInvalidError("plan() result needs a bool should_run", nil)
		}
		if !shouldRun {
			return engine.NoChange(), nil
		}
		raw, _ := v["side_effects"].([]any)
		if len(raw) == 0 {
			return engine.Run(fallback), nil
		}
		effects := make([]engine.SideEffect, 0, len(raw))
		for _, item := range raw {
			effects = append(effects, engine.SideEffect{
				Kind:        engine.SideEffectExec,
				Target:      fallback.Target,
				Description: fmt.Sprint(item),
			})
		}
		return engine.Run(effects...), nil
	default:
		return engine.Outcome{}, engine.NewAtomInvalidError(fmt.Sprintf("plan() returned %T", result), nil)
	}
}

// Execute implements engine.Atom.
func (s *Script) Execute(ctx context.Context, env *engine.Env) error {
	m, err := s.load(ctx, env)
	if err != nil {
		return err
	}
	if _, err := env.Scripts.CallFunction(ctx, m, s.function(), s.hostFuncs(env)); err != nil {
		var exitErr *host.ExitError
		if errors.As(err, &exitErr) {
			return engine.NewExecutionError(fmt.Sprintf("%s: %s", s.Filename, s.function()), err).
				WithDetail("exit_code", exitErr.ExitCode).
				WithDetail("command", exitErr.Command)
		}
		return engine.NewExecutionError(fmt.Sprintf("%s: %s", s.Filename, s.function()), err)
	}
	return nil
}

func (s *Script) hostFuncs(env *engine.Env) script.Funcs {
	return script.Funcs{
		"run": func(ctx context.Context, args []any) (any, error) {
			argv, err := stringArgs(args)
			if err != nil {
				return nil, err
			}
			if len(argv) == 0 {
				return nil, fmt.Errorf("run: command is required")
			}
			res, err := env.Host.Run(ctx, host.Command{Name: argv[0], Args: argv[1:], Privileged: s.Privileged})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"stdout":    res.Stdout,
				"stderr":    res.Stderr,
				"exit_code": int64(res.ExitCode),
			}, nil
		},
		"write_file": func(ctx context.Context, args []any) (any, error) {
			argv, err := stringArgs(args)
			if err != nil {
				return nil, err
			}
			if len(argv) != 2 {
				return nil, fmt.Errorf("write_file: want (path, content), got %d arguments", len(argv))
			}
			return nil, env.Host.WriteFile(ctx, argv[0], []byte(argv[1]), 0o644)
		},
	}
}

func stringArgs(args []any) ([]string, error) {
	out := make([]string, len(args))
	for i, arg := range args {
		str, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("argument %d: want string, got %T", i, arg)
		}
		out[i] = str
	}
	return out, nil
}
