package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

const (
	// DefaultMaxSteps bounds a single load or call.
	DefaultMaxSteps uint64 = 1_000_000

	// DefaultTimeout bounds a single load or call in wall time.
	DefaultTimeout = 30 * time.Second
)

// Options configures a Runtime.
type Options struct {
	// MaxSteps is the execution step budget per load or call.
	MaxSteps uint64

	// Timeout is the wall-clock budget per load or call.
	Timeout time.Duration

	// Logger receives print() output and log() calls.
	Logger zerolog.Logger
}

// Runtime evaluates user scripts for the duration of one run.
//
// Scripts get no load() and no filesystem or network builtins. The only
// capabilities they have are the values the host passes in: the env given
// to Load and the arguments given to Call.
type Runtime struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	modules map[string]*Module
	closed  bool
}

// NewRuntime creates a runtime. Zero-valued options take the defaults.
func NewRuntime(opts Options) *Runtime {
	if opts.MaxSteps == 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Runtime{
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "script-runtime").Logger(),
		modules: make(map[string]*Module),
	}
}

// Module is a loaded script with frozen globals.
type Module struct {
	name    string
	globals starlark.StringDict
	code    []byte
	runtime *Runtime
}

// Name returns the filename the module was loaded under.
func (m *Module) Name() string {
	return m.name
}

// Has reports whether the module defines a global with the given name.
func (m *Module) Has(name string) bool {
	_, ok := m.globals[name]
	return ok
}

// Function returns a handle to a top-level function.
func (m *Module) Function(name string) (*FunctionHandle, error) {
	v, ok := m.globals[name]
	if !ok {
		return nil, &Error{Op: "call", Path: name, Err: ErrFunctionNotFound}
	}
	fn, ok := v.(*starlark.Function)
	if !ok {
		return nil, &Error{Op: "call", Path: name, Err: ErrNotCallable}
	}
	return newFunctionHandle(fn, m), nil
}

// Global decodes a top-level value.
func (m *Module) Global(name string) (any, error) {
	v, ok := m.globals[name]
	if !ok {
		return nil, &Error{Op: "decode", Path: name, Err: ErrUndefined}
	}
	return decoder{module: m}.decode(v, name)
}

// LoadFile reads path on the host and loads it as a module.
func (r *Runtime) LoadFile(ctx context.Context, path string, env map[string]any) (*Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "load", Path: path, Err: err}
	}
	return r.Load(ctx, path, src, env)
}

// Load compiles and initializes src. Each env entry is encoded and bound
// as a predeclared global; the module's globals are frozen afterwards.
// Loading the same filename twice replaces the earlier module.
func (r *Runtime) Load(ctx context.Context, filename string, src []byte, env map[string]any) (*Module, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	predeclared := starlark.StringDict{
		"log": HostFunc(r.logFunc).builtin("log"),
	}
	for name, value := range env {
		sv, err := encode(value, name)
		if err != nil {
			return nil, err
		}
		sv.Freeze()
		predeclared[name] = sv
	}

	_, prog, err := starlark.SourceProgram(filename, src, predeclared.Has)
	if err != nil {
		return nil, &Error{Op: "load", Path: filename, Err: err}
	}

	var code bytes.Buffer
	if err := prog.Write(&code); err != nil {
		return nil, &Error{Op: "load", Path: filename, Err: err}
	}

	var globals starlark.StringDict
	err = r.guard(ctx, filename, func(thread *starlark.Thread) error {
		var initErr error
		globals, initErr = prog.Init(thread, predeclared)
		return initErr
	})
	if err != nil {
		return nil, &Error{Op: "load", Path: filename, Err: err}
	}
	globals.Freeze()

	module := &Module{
		name:    filename,
		globals: globals,
		code:    code.Bytes(),
		runtime: r,
	}

	r.mu.Lock()
	r.modules[filename] = module
	r.mu.Unlock()

	r.logger.Debug().Str("module", filename).Int("globals", len(globals)).Msg("script loaded")
	return module, nil
}

// Call invokes the handle with encoded args and decodes the result.
func (r *Runtime) Call(ctx context.Context, h *FunctionHandle, args ...any) (any, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, &Error{Op: "call", Err: ErrNotCallable}
	}

	sargs := make(starlark.Tuple, len(args))
	for i, arg := range args {
		sv, err := Encode(arg)
		if err != nil {
			return nil, &Error{Op: "call", Path: fmt.Sprintf("%s[%d]", h.Name(), i), Err: err}
		}
		sargs[i] = sv
	}

	var result starlark.Value
	err := r.guard(ctx, h.Name(), func(thread *starlark.Thread) error {
		var callErr error
		result, callErr = starlark.Call(thread, h.fn, sargs, nil)
		return callErr
	})
	if err != nil {
		return nil, &Error{Op: "call", Path: h.Name(), Err: err}
	}

	return decoder{module: h.module}.decode(result, h.Name())
}

// CallFunction calls a top-level function of m by name.
func (r *Runtime) CallFunction(ctx context.Context, m *Module, name string, args ...any) (any, error) {
	h, err := m.Function(name)
	if err != nil {
		return nil, err
	}
	return r.Call(ctx, h, args...)
}

// Close tears the runtime down. Later loads and calls fail with ErrRuntimeClosed.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.modules = nil
	return nil
}

func (r *Runtime) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &Error{Op: "call", Err: ErrRuntimeClosed}
	}
	return nil
}

// guard runs fn on a fresh thread bounded by the step budget, the timeout
// and ctx. Panics inside the interpreter are turned into ErrPanic.
func (r *Runtime) guard(ctx context.Context, name string, fn func(*starlark.Thread) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			r.logger.Info().Str("script", name).Msg(msg)
		},
	}
	thread.SetMaxExecutionSteps(r.opts.MaxSteps)
	thread.SetLocal(contextKey, ctx)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()

	err = fn(thread)
	if err != nil && thread.ExecutionSteps() >= r.opts.MaxSteps {
		return fmt.Errorf("%w (%d steps): %v", ErrStepBudget, r.opts.MaxSteps, err)
	}
	if err != nil && ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

func (r *Runtime) logFunc(_ context.Context, args []any) (any, error) {
	msg := ""
	for i, arg := range args {
		if i > 0 {
			msg += " "
		}
		msg += fmt.Sprint(arg)
	}
	r.logger.Info().Msg(msg)
	return nil, nil
}
