package script

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by *Error.
var (
	ErrUnsupportedType  = errors.New("unsupported value type")
	ErrIntegerOverflow  = errors.New("integer does not fit in 64 bits")
	ErrOpaqueValue      = errors.New("function handles cannot be converted to script values")
	ErrStepBudget       = errors.New("script exceeded its execution step budget")
	ErrFunctionNotFound = errors.New("function not defined")
	ErrUndefined        = errors.New("name not defined")
	ErrKeywordArgs      = errors.New("host functions take positional arguments only")
	ErrNotCallable      = errors.New("value is not callable")
	ErrRuntimeClosed    = errors.New("script runtime is closed")
	ErrPanic            = errors.New("script runtime panic")
)

// Error is returned by every conversion and evaluation failure in this package.
type Error struct {
	// Op is the operation that failed: "encode", "decode", "load" or "call".
	Op string

	// Path locates the offending value inside a structure, e.g. "b[2]".
	Path string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("script %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("script %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func joinPath(base, elem string) string {
	if base == "" {
		return elem
	}
	if len(elem) > 0 && elem[0] == '[' {
		return base + elem
	}
	return base + "." + elem
}
