package script

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Encode converts a host value into a Starlark value.
//
// The host value model is JSON-like: nil, bool, integers, floats, string,
// []any and map[string]any. Map keys are inserted in sorted order so the
// resulting dict is deterministic. HostFunc and Funcs values become builtins
// so the host can hand capabilities to a script. A *FunctionHandle is
// rejected with ErrOpaqueValue.
func Encode(v any) (starlark.Value, error) {
	return encode(v, "")
}

func encode(v any, path string) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int8:
		return starlark.MakeInt64(int64(val)), nil
	case int16:
		return starlark.MakeInt64(int64(val)), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint:
		return starlark.MakeUint(val), nil
	case uint8:
		return starlark.MakeUint64(uint64(val)), nil
	case uint16:
		return starlark.MakeUint64(uint64(val)), nil
	case uint32:
		return starlark.MakeUint64(uint64(val)), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		items := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := encode(item, joinPath(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			items[i] = sv
		}
		return starlark.NewList(items), nil
	case []string:
		items := make([]starlark.Value, len(val))
		for i, item := range val {
			items[i] = starlark.String(item)
		}
		return starlark.NewList(items), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			sv, err := encode(val[k], joinPath(path, k))
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, &Error{Op: "encode", Path: joinPath(path, k), Err: err}
			}
		}
		return dict, nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := dict.SetKey(starlark.String(k), starlark.String(val[k])); err != nil {
				return nil, &Error{Op: "encode", Path: joinPath(path, k), Err: err}
			}
		}
		return dict, nil
	case HostFunc:
		name := path
		if name == "" {
			name = "host_function"
		}
		return val.builtin(name), nil
	case Funcs:
		members := make(starlark.StringDict, len(val))
		for name, fn := range val {
			members[name] = fn.builtin(name)
		}
		return starlarkstruct.FromStringDict(starlark.String("host"), members), nil
	case *FunctionHandle:
		return nil, &Error{Op: "encode", Path: path, Err: ErrOpaqueValue}
	case starlark.Value:
		return val, nil
	default:
		return nil, &Error{Op: "encode", Path: path, Err: fmt.Errorf("%w: %T", ErrUnsupportedType, v)}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode converts a Starlark value into the host value model.
//
// Lists and tuples decode to []any. A dict decodes to map[string]any when it
// has no entries keyed 1..N and at least one non-integer key; otherwise it
// decodes to []any built from the entries keyed 1, 2, ... up to the first
// gap. The rule is lossy for mixed dicts: in map form non-string keys are
// dropped, in array form every key outside 1..N is dropped. An empty dict
// decodes to an empty array.
//
// Script functions decode to *FunctionHandle. Decode has no program bytes
// for them, so handles produced here compare by name and position only;
// values returned through Module or Runtime calls carry full identity.
func Decode(v starlark.Value) (any, error) {
	d := decoder{}
	return d.decode(v, "")
}

type decoder struct {
	module *Module
}

func (d decoder) decode(v starlark.Value, path string) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, &Error{Op: "decode", Path: path, Err: ErrIntegerOverflow}
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		out := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := d.decode(val.Index(i), joinPath(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, len(val))
		for i, item := range val {
			gv, err := d.decode(item, joinPath(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			out[i] = gv
		}
		return out, nil
	case *starlark.Dict:
		return d.decodeDict(val, path)
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, &Error{Op: "decode", Path: joinPath(path, name), Err: err}
			}
			gv, err := d.decode(attr, joinPath(path, name))
			if err != nil {
				return nil, err
			}
			out[name] = gv
		}
		return out, nil
	case *starlark.Function:
		return newFunctionHandle(val, d.module), nil
	default:
		return nil, &Error{Op: "decode", Path: path, Err: fmt.Errorf("%w: %s", ErrUnsupportedType, v.Type())}
	}
}

func (d decoder) decodeDict(dict *starlark.Dict, path string) (any, error) {
	n := contiguousLength(dict)

	if n == 0 && hasNonIntKey(dict) {
		out := make(map[string]any, dict.Len())
		for _, item := range dict.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				continue
			}
			gv, err := d.decode(item[1], joinPath(path, string(key)))
			if err != nil {
				return nil, err
			}
			out[string(key)] = gv
		}
		return out, nil
	}

	out := make([]any, n)
	for i := 1; i <= n; i++ {
		value, _, err := dict.Get(starlark.MakeInt(i))
		if err != nil {
			return nil, &Error{Op: "decode", Path: path, Err: err}
		}
		gv, err := d.decode(value, joinPath(path, "["+strconv.Itoa(i)+"]"))
		if err != nil {
			return nil, err
		}
		out[i-1] = gv
	}
	return out, nil
}

// contiguousLength counts the entries keyed 1, 2, ... before the first gap.
func contiguousLength(dict *starlark.Dict) int {
	n := 0
	for n < math.MaxInt32 {
		_, found, err := dict.Get(starlark.MakeInt(n + 1))
		if err != nil || !found {
			return n
		}
		n++
	}
	return n
}

func hasNonIntKey(dict *starlark.Dict) bool {
	for _, k := range dict.Keys() {
		if _, ok := k.(starlark.Int); !ok {
			return true
		}
	}
	return false
}
