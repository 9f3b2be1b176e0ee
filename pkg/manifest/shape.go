package manifest

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/hostweave/hostweave/pkg/atoms/cron"
	"github.com/hostweave/hostweave/pkg/atoms/scripted"
	"github.com/hostweave/hostweave/pkg/config"
	"github.com/hostweave/hostweave/pkg/engine"
)

// Field types used in shapes.
const (
	TypeString  = "string"
	TypeBool    = "boolean"
	TypeInteger = "integer"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Field describes one field of an action or atom.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Items       string `json:"items,omitempty"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Shape is the machine-readable description of an action or atom kind. It
// is derived from the same struct tags the codec decodes with.
type Shape struct {
	Kind   string  `json:"kind"`
	Atom   bool    `json:"atom,omitempty"`
	Fields []Field `json:"fields"`
}

var stringer = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()

// ShapeOf reflects over v's exported fields. Names come from the yaml tag,
// falling back to json; a "required" validate rule marks a field required.
func ShapeOf(kind string, v any) Shape {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	shape := Shape{Kind: kind}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := tagName(sf, "yaml")
		if name == "" {
			name = tagName(sf, "json")
		}
		if name == "-" || name == "" {
			continue
		}

		typ, items := fieldType(sf.Type)
		shape.Fields = append(shape.Fields, Field{
			Name:        name,
			Type:        typ,
			Items:       items,
			Required:    hasRule(sf.Tag.Get("validate"), "required"),
			Description: sf.Tag.Get("doc"),
		})
	}
	return shape
}

func tagName(sf reflect.StructField, key string) string {
	tag, ok := sf.Tag.Lookup(key)
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

func hasRule(tag, rule string) bool {
	for _, r := range strings.Split(tag, ",") {
		if r == rule {
			return true
		}
	}
	return false
}

func fieldType(t reflect.Type) (typ, items string) {
	if t.Implements(stringer) {
		return TypeString, ""
	}
	switch t.Kind() {
	case reflect.String:
		return TypeString, ""
	case reflect.Bool:
		return TypeBool, ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger, ""
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return TypeString, ""
		}
		elem, _ := fieldType(t.Elem())
		return TypeArray, elem
	default:
		return TypeObject, ""
	}
}

// ActionShapes returns the shape of every action kind, sorted by kind.
func ActionShapes() []Shape {
	var shapes []Shape
	for _, k := range Kinds() {
		shapes = append(shapes, ShapeOf(string(k), kinds[k]()))
	}
	return shapes
}

// AtomShapes returns the shape of every atom kind.
func AtomShapes() []Shape {
	atoms := []engine.Atom{&cron.Add{}, &cron.List{}, &cron.Remove{}, &scripted.Script{}}
	shapes := make([]Shape, 0, len(atoms))
	for _, a := range atoms {
		s := ShapeOf(a.Kind(), a)
		s.Atom = true
		shapes = append(shapes, s)
	}
	return shapes
}

// JSONSchema builds a JSON Schema document describing a manifest, with one
// definition per shape.
func JSONSchema(shapes []Shape) map[string]any {
	defs := make(map[string]any, len(shapes))
	var actions []any
	for _, s := range shapes {
		name := definitionName(s)
		defs[name] = shapeSchema(s)
		if !s.Atom {
			actions = append(actions, map[string]any{"$ref": "#/$defs/" + name})
		}
	}

	actionList := map[string]any{"type": "array", "items": map[string]any{"oneOf": actions}}
	defs["Scope"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"host":       map[string]any{"type": TypeString},
			"user":       map[string]any{"type": TypeString},
			"privileged": map[string]any{"type": TypeBool},
		},
		"additionalProperties": false,
	}

	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"title":   "weave manifest",
		"oneOf": []any{
			actionList,
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scope":   map[string]any{"$ref": "#/$defs/Scope"},
					"actions": actionList,
				},
				"required":             []any{"actions"},
				"additionalProperties": false,
			},
		},
		"$defs": defs,
	}
}

func shapeSchema(s Shape) map[string]any {
	props := make(map[string]any, len(s.Fields)+1)
	required := []any{}
	if !s.Atom {
		props["action"] = map[string]any{"const": s.Kind}
		required = append(required, "action")
	}
	for _, f := range s.Fields {
		p := map[string]any{"type": f.Type}
		if f.Items != "" {
			p["items"] = map[string]any{"type": f.Items}
		}
		if f.Description != "" {
			p["description"] = f.Description
		}
		props[f.Name] = p
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// CUE renders s as a closed CUE definition. Actions get an action!
// discriminator field.
func CUE(s Shape) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%s: {\n", definitionName(s))
	if !s.Atom {
		fmt.Fprintf(&b, "\taction!: %q\n", s.Kind)
	}
	for _, f := range s.Fields {
		if f.Description != "" {
			fmt.Fprintf(&b, "\t// %s\n", f.Description)
		}
		marker := "?"
		if f.Required {
			marker = "!"
		}
		fmt.Fprintf(&b, "\t%s%s: %s\n", f.Name, marker, cueType(f))
	}
	b.WriteString("}\n")
	return b.String()
}

func cueType(f Field) string {
	switch f.Type {
	case TypeString:
		if f.Required {
			return `string & !=""`
		}
		return "string"
	case TypeBool:
		return "bool"
	case TypeInteger:
		return "int"
	case TypeArray:
		return "[..." + cueType(Field{Type: f.Items}) + "]"
	default:
		return "{...}"
	}
}

// definitionName turns "cron.add" into "CronAdd", or "CronAddAtom" for
// atoms.
func definitionName(s Shape) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(s.Kind, func(r rune) bool { return r == '.' || r == '_' || r == '-' }) {
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	if s.Atom {
		b.WriteString("Atom")
	}
	return b.String()
}

// RegisterSchemas adds a CUE definition per action kind to sr, keyed by
// kind.
func RegisterSchemas(sr *config.SchemaRegistry) error {
	for _, s := range ActionShapes() {
		if err := sr.RegisterSchema(s.Kind, CUE(s)); err != nil {
			return err
		}
	}
	return nil
}
