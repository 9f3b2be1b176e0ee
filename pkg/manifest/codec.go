package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cuelang.org/go/cue"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hostweave/hostweave/pkg/config"
	"github.com/hostweave/hostweave/pkg/engine"
)

const discriminator = "action"

// Codec decodes and encodes manifests. Every entry is checked three ways:
// strict YAML decoding rejects unknown fields, struct validation reports
// missing required fields, and the entry is unified with its kind's CUE
// definition.
type Codec struct {
	schemas  *config.SchemaRegistry
	validate *validator.Validate
}

// NewCodec registers the action definitions in schemas and returns a codec
// using them. A nil registry gets a fresh one.
func NewCodec(schemas *config.SchemaRegistry) (*Codec, error) {
	if schemas == nil {
		schemas = config.NewSchemaRegistry()
	}
	if err := RegisterSchemas(schemas); err != nil {
		return nil, fmt.Errorf("failed to register action schemas: %w", err)
	}
	return &Codec{schemas: schemas, validate: config.NewValidator()}, nil
}

var defaultCodec = sync.OnceValues(func() (*Codec, error) {
	return NewCodec(nil)
})

// Parse decodes a manifest with the default codec.
func Parse(data []byte) (*Manifest, error) {
	c, err := defaultCodec()
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}

// Marshal encodes a manifest with the default codec.
func Marshal(m *Manifest) ([]byte, error) {
	c, err := defaultCodec()
	if err != nil {
		return nil, err
	}
	return c.Encode(m)
}

// LoadFile reads and decodes the manifest at path. Relative script files
// resolve against the manifest's directory.
func (c *Codec) LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewValidationError("failed to read manifest", err).WithDetail("path", path)
	}
	m, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	m.Dir = filepath.Dir(path)
	return m, nil
}

// Decode parses YAML holding either a bare list of actions or a mapping
// with scope and actions keys.
func (c *Codec) Decode(data []byte) (*Manifest, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, engine.NewValidationError("malformed manifest", err)
	}

	m := &Manifest{}
	if len(root.Content) == 0 {
		return m, nil
	}

	doc := root.Content[0]
	var list *yaml.Node
	switch doc.Kind {
	case yaml.SequenceNode:
		list = doc
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key, value := doc.Content[i], doc.Content[i+1]
			switch key.Value {
			case "scope":
				if err := strictDecode(value, &m.Scope); err != nil {
					return nil, engine.NewValidationError("invalid scope", err)
				}
			case "actions":
				if value.Kind != yaml.SequenceNode {
					return nil, engine.NewValidationError(fmt.Sprintf("line %d: actions must be a list", value.Line), nil)
				}
				list = value
			default:
				return nil, engine.NewValidationError(fmt.Sprintf("line %d: unknown field %q", key.Line, key.Value), nil)
			}
		}
		if list == nil {
			return nil, engine.NewValidationError("manifest has no actions", nil).
				WithCode(engine.ErrCodeMissingField)
		}
	default:
		return nil, engine.NewValidationError(fmt.Sprintf("line %d: manifest must be a list or a mapping", doc.Line), nil)
	}

	for i, node := range list.Content {
		a, err := c.decodeAction(node)
		if err != nil {
			var ee *engine.EngineError
			if errors.As(err, &ee) {
				return nil, ee.WithDetail("index", i).WithDetail("line", node.Line)
			}
			return nil, err
		}
		m.Actions = append(m.Actions, a)
	}
	return m, nil
}

func (c *Codec) decodeAction(node *yaml.Node) (Action, error) {
	if node.Kind != yaml.MappingNode {
		return nil, engine.NewValidationError(fmt.Sprintf("line %d: action must be a mapping", node.Line), nil)
	}

	var verb string
	fields := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Value == discriminator {
			verb = value.Value
			continue
		}
		fields.Content = append(fields.Content, key, value)
	}
	if verb == "" {
		return nil, engine.NewValidationError(fmt.Sprintf("line %d: entry has no %q field", node.Line, discriminator), nil).
			WithCode(engine.ErrCodeMissingField)
	}

	a, err := New(Kind(verb))
	if err != nil {
		return nil, err
	}

	if err := strictDecode(fields, a); err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("%s: %v", verb, err), err).WithAction(verb)
	}

	if err := c.validate.Struct(a); err != nil {
		return nil, fieldError(verb, err)
	}

	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return nil, engine.NewValidationError(verb, err).WithAction(verb)
	}
	if err := c.schemas.ValidateAgainstSchema(context.Background(), verb, raw, cue.Concrete(true)); err != nil {
		errs := config.ConvertCUEErrors(err)
		return nil, engine.NewValidationError(fmt.Sprintf("%s: %v", verb, errs), errs).WithAction(verb)
	}
	return a, nil
}

// strictDecode decodes node into out, failing on fields out does not have.
func strictDecode(node *yaml.Node, out any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func fieldError(verb string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return engine.NewValidationError(verb, err).WithAction(verb)
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required", "required_without":
		return engine.NewValidationError(fmt.Sprintf("%s: missing required field %q", verb, fe.Field()), err).
			WithCode(engine.ErrCodeMissingField).
			WithAction(verb)
	case "excluded_with":
		return engine.NewValidationError(fmt.Sprintf("%s: %q cannot be combined with %q", verb, fe.Field(), fe.Param()), err).
			WithAction(verb)
	default:
		return engine.NewValidationError(fmt.Sprintf("%s: field %q failed %q", verb, fe.Field(), fe.Tag()), err).
			WithAction(verb)
	}
}

// Encode renders m as YAML. A manifest without a scope is written as a
// bare list.
func (c *Codec) Encode(m *Manifest) ([]byte, error) {
	list := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, a := range m.Actions {
		var node yaml.Node
		if err := node.Encode(a); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", a.Kind(), err)
		}
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%s did not encode to a mapping", a.Kind())
		}
		node.Content = append([]*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: discriminator},
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(a.Kind())},
		}, node.Content...)
		node.Style = 0
		list.Content = append(list.Content, &node)
	}

	doc := list
	if m.Scope != (Scope{}) {
		var scope yaml.Node
		if err := scope.Encode(m.Scope); err != nil {
			return nil, fmt.Errorf("failed to encode scope: %w", err)
		}
		doc = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "scope"}, &scope,
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "actions"}, list,
		}}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
