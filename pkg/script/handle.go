package script

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"go.starlark.net/starlark"
)

// FunctionHandle is an opaque reference to a script-defined function.
//
// Handles never convert back into the host value model. Identity is the
// compiled program the function belongs to plus the function's name and
// definition position, so two loads of the same source yield equal handles
// while closures over different state in the same definition do too.
type FunctionHandle struct {
	fn     *starlark.Function
	module *Module
	code   []byte
	key    string
}

func newFunctionHandle(fn *starlark.Function, module *Module) *FunctionHandle {
	var program []byte
	if module != nil {
		program = module.code
	}

	code := make([]byte, 0, len(program)+64)
	code = append(code, program...)
	code = append(code, 0)
	code = append(code, fn.Name()...)
	code = append(code, 0)
	code = append(code, fn.Position().String()...)

	sum := sha256.Sum256(code)
	return &FunctionHandle{
		fn:     fn,
		module: module,
		code:   code,
		key:    hex.EncodeToString(sum[:]),
	}
}

// Name returns the function's declared name.
func (h *FunctionHandle) Name() string {
	return h.fn.Name()
}

// Bytes returns the compiled representation used for identity.
func (h *FunctionHandle) Bytes() []byte {
	out := make([]byte, len(h.code))
	copy(out, h.code)
	return out
}

// Key returns a stable hash of Bytes, suitable as a map key.
func (h *FunctionHandle) Key() string {
	return h.key
}

// Equal reports whether both handles refer to the same compiled function.
func (h *FunctionHandle) Equal(other *FunctionHandle) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.key == other.key && bytes.Equal(h.code, other.code)
}

// String implements fmt.Stringer.
func (h *FunctionHandle) String() string {
	return "<function " + h.fn.Name() + ">"
}
