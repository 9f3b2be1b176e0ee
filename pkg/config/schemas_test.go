package config

import (
	"context"
	"reflect"
	"testing"

	"cuelang.org/go/cue"
)

const cronAddSchema = `
#CronAdd: {
	action!:   "cron.add"
	schedule!: string & !=""
	command?:  string
}
`

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("cron.add", cronAddSchema); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("cron.add")
	if !ok {
		t.Fatal("expected to find cron.add schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	src, ok := sr.Source("cron.add")
	if !ok || src != cronAddSchema {
		t.Errorf("source = %q", src)
	}

	if got, want := sr.ListSchemas(), []string{"cron.add", SettingsSchema}; !reflect.DeepEqual(got, want) {
		t.Errorf("schemas = %v, want %v", got, want)
	}
}

func TestSchemaRegistry_RegisterRejects(t *testing.T) {
	tests := []struct {
		name   string
		schema string
	}{
		{"syntax", "#A: {"},
		{"no definition", "a: 1"},
		{"two definitions", "#A: {}\n#B: {}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewSchemaRegistry().RegisterSchema("x", tt.schema); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSchemaRegistry_Validate(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("cron.add", cronAddSchema); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		data    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"action": "cron.add", "schedule": "@daily", "command": "x"}, false},
		{"missing required", map[string]any{"action": "cron.add"}, true},
		{"unknown field", map[string]any{"action": "cron.add", "schedule": "@daily", "when": "now"}, true},
		{"wrong type", map[string]any{"action": "cron.add", "schedule": 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(context.Background(), "cron.add", tt.data, cue.Concrete(true))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := sr.ValidateAgainstSchema(context.Background(), "nope", nil); err == nil {
		t.Error("expected error for unknown schema")
	}
}
