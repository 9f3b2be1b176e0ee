package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds CUE definitions used to validate settings and
// manifest entries. Each registered schema source declares exactly one
// definition, which is what data is unified with.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	sources map[string]string
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the built-in settings schema.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
		sources: make(map[string]string),
	}

	if err := sr.RegisterSchema(SettingsSchema, builtinSettingsSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def, err := soleDefinition(val)
	if err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}

	sr.schemas[name] = def
	sr.sources[name] = schema
	return nil
}

func soleDefinition(val cue.Value) (cue.Value, error) {
	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return cue.Value{}, err
	}

	var (
		def   cue.Value
		found int
	)
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			def = iter.Value()
			found++
		}
	}
	if found != 1 {
		return cue.Value{}, fmt.Errorf("want exactly one definition, found %d", found)
	}
	return def, nil
}

// Context returns the CUE context schemas were compiled in. Values unified
// with a schema must come from it.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// GetSchema retrieves a definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Source returns the CUE text a schema was registered from.
func (sr *SchemaRegistry) Source(name string) (string, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	src, ok := sr.sources[name]
	return src, ok
}

// ValidateAgainstSchema encodes data and unifies it with the named
// definition. Definitions are closed, so unknown fields fail. Pass
// cue.Concrete(true) to also fail on missing required fields.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}, opts ...cue.Option) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(opts...); err != nil {
		return err
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SettingsSchema is the registry name of the weave.cue schema.
const SettingsSchema = "settings"

const builtinSettingsSchema = `
// Engine settings for weave.cue
#Settings: {
	// abort stops the run on the first plan error; skip drops the action
	plan_errors: *"abort" | "skip"

	contexts: {
		mode: *"strict" | "best-effort"

		// the dns provider is enabled when host is set
		dns: {
			host:       *"" | string
			nameserver: *"" | string
			timeout:    *"5s" | string
			retries:    *1 | int & >=0
		}

		scripts: *[] | [...{
			prefix: string & =~"^[a-z][a-z0-9_-]*$"
			file:   string & !=""
		}]

		// WASI modules print key=value lines on stdout
		wasm: *[] | [...{
			prefix:       string & =~"^[a-z][a-z0-9_-]*$"
			file:         string & !=""
			memory_pages: *256 | int & >0 & <=65536
		}]
	}

	scripts: {
		max_steps: *1000000 | int & >0
		timeout:   *"30s" | string
	}

	journal: {
		enabled: *true | bool
		path:    *"" | string
	}

	policy: {
		enabled:  *true | bool
		paths:    *[] | [...string]
		disabled: *[] | [...string]
	}

	ssh: {
		user:          *"" | string
		port:          *22 | int & >0 & <65536
		auth:          *"" | "key" | "agent"
		key_file:      *"" | string
		known_hosts:   *"" | string
		timeout:       *"30s" | string
		dial_attempts: *3 | int & >0
	}

	telemetry: {
		service_name:  *"hostweave" | string
		tracing:       *"none" | "stdout" | "otlp"
		otlp_endpoint: *"localhost:4317" | string
		metrics_addr:  *"" | string
	}
}
`
