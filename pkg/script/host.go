package script

import (
	"context"
	"strconv"

	"go.starlark.net/starlark"
)

const contextKey = "hostweave.context"

// HostFunc is a host capability callable from scripts. Arguments arrive
// decoded into the host value model and the result is encoded back.
type HostFunc func(ctx context.Context, args []any) (any, error)

// Funcs is a named set of host functions, exposed to scripts as a struct
// value (e.g. host.run(...)).
type Funcs map[string]HostFunc

func (f HostFunc) builtin(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, &Error{Op: "call", Path: b.Name(), Err: ErrKeywordArgs}
		}

		goArgs := make([]any, len(args))
		for i, arg := range args {
			gv, err := decoder{}.decode(arg, b.Name()+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			goArgs[i] = gv
		}

		ctx, _ := thread.Local(contextKey).(context.Context)
		if ctx == nil {
			ctx = context.Background()
		}

		result, err := f(ctx, goArgs)
		if err != nil {
			return nil, err
		}
		return Encode(result)
	})
}
