package script

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"null", nil},
		{"bool", true},
		{"integer", int64(-42)},
		{"float", 3.25},
		{"string", "0 0 * * *"},
		{"empty array", []any{}},
		{"heterogeneous array", []any{int64(1), "two", 3.0, false, nil}},
		{"map", map[string]any{"a": int64(1), "b": []any{true, nil, "x"}}},
		{"nested", map[string]any{
			"user": map[string]any{"name": "alice", "dirs": []any{"/home/alice"}},
			"n":    int64(7),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sv, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(sv)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("round trip = %#v, want %#v", got, tt.value)
			}
		})
	}
}

func TestEncodeNormalizesIntegers(t *testing.T) {
	sv, err := Encode(map[string]any{"a": 1, "b": uint8(2)})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(sv)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want := map[string]any{"a": int64(1), "b": int64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := Encode(map[string]any{"ch": make(chan int)})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	var scriptErr *Error
	if !errors.As(err, &scriptErr) || scriptErr.Path != "ch" {
		t.Errorf("expected error path 'ch', got %v", err)
	}
}

func TestDecodeOverflow(t *testing.T) {
	big := starlark.MakeUint64(1 << 63)
	if _, err := Decode(big); !errors.Is(err, ErrIntegerOverflow) {
		t.Fatalf("expected ErrIntegerOverflow, got %v", err)
	}
}

func TestDecodeDictHeuristic(t *testing.T) {
	rt := NewRuntime(Options{Logger: zerolog.Nop()})
	defer rt.Close()

	src := `
as_map = {"name": "alice", "uid": 1000}
as_array = {1: "a", 2: "b", 3: "c"}
gap = {1: "a", 3: "c"}
mixed = {1: "first", "name": "ignored"}
offset = {5: "five", "k": "v"}
only_offset = {5: "five"}
empty = {}
listed = [1, [2, 3]]
tupled = (1, "x")
`
	m, err := rt.Load(context.Background(), "dicts.star", []byte(src), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		global string
		want   any
	}{
		{"as_map", map[string]any{"name": "alice", "uid": int64(1000)}},
		{"as_array", []any{"a", "b", "c"}},
		{"gap", []any{"a"}},
		{"mixed", []any{"first"}},
		{"offset", map[string]any{"k": "v"}},
		{"only_offset", []any{}},
		{"empty", []any{}},
		{"listed", []any{int64(1), []any{int64(2), int64(3)}}},
		{"tupled", []any{int64(1), "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.global, func(t *testing.T) {
			got, err := m.Global(tt.global)
			if err != nil {
				t.Fatalf("Global failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}
