package manifest

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hostweave/hostweave/pkg/config"
)

func findField(s Shape, name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func TestShapeOf(t *testing.T) {
	s := ShapeOf("cron.add", &CronAdd{})

	schedule, ok := findField(s, "schedule")
	if !ok || !schedule.Required || schedule.Type != TypeString {
		t.Errorf("schedule field = %+v", schedule)
	}
	if schedule.Description == "" {
		t.Error("schedule should carry a description")
	}
	privileged, ok := findField(s, "privileged")
	if !ok || privileged.Required || privileged.Type != TypeBool {
		t.Errorf("privileged field = %+v", privileged)
	}

	run := ShapeOf("script.run", &ScriptRun{})
	hooks, ok := findField(run, "initializers")
	if !ok || hooks.Type != TypeArray || hooks.Items != TypeString {
		t.Errorf("initializers field = %+v", hooks)
	}
	if source, _ := findField(run, "source"); source.Required {
		t.Error("source is conditionally required and must not be marked required")
	}
}

func TestAtomShapes(t *testing.T) {
	shapes := AtomShapes()
	if len(shapes) != 4 {
		t.Fatalf("got %d atom shapes", len(shapes))
	}
	for _, s := range shapes {
		if !s.Atom {
			t.Errorf("%s not marked as atom", s.Kind)
		}
	}

	add := shapes[0]
	if add.Kind != "cron.add" {
		t.Fatalf("first atom = %s", add.Kind)
	}
	if f, ok := findField(add, "schedule"); !ok || f.Type != TypeString || !f.Required {
		t.Errorf("cron.add atom schedule = %+v", f)
	}
}

func TestCUE(t *testing.T) {
	out := CUE(ShapeOf("cron.add", &CronAdd{}))

	for _, want := range []string{
		"#CronAdd: {",
		`action!: "cron.add"`,
		`schedule!: string & !=""`,
		"command?: string",
		"privileged?: bool",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("CUE output missing %q:\n%s", want, out)
		}
	}

	atom := ShapeOf("cron.add", &CronAdd{})
	atom.Atom = true
	if out := CUE(atom); !strings.HasPrefix(out, "#CronAddAtom: {") || strings.Contains(out, "action!") {
		t.Errorf("atom CUE output:\n%s", out)
	}
}

func TestRegisterSchemas(t *testing.T) {
	sr := config.NewSchemaRegistry()
	if err := RegisterSchemas(sr); err != nil {
		t.Fatalf("RegisterSchemas failed: %v", err)
	}
	for _, k := range Kinds() {
		if _, ok := sr.GetSchema(string(k)); !ok {
			t.Errorf("schema %s not registered", k)
		}
	}
}

func TestJSONSchema(t *testing.T) {
	doc := JSONSchema(append(ActionShapes(), AtomShapes()...))

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("schema does not marshal: %v", err)
	}

	var decoded struct {
		Defs map[string]struct {
			Required   []string                  `json:"required"`
			Properties map[string]map[string]any `json:"properties"`
		} `json:"$defs"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"CronAdd", "CronList", "CronRemove", "ScriptRun", "CronAddAtom", "ScriptAtom", "Scope"} {
		if _, ok := decoded.Defs[name]; !ok {
			t.Errorf("$defs missing %s", name)
		}
	}

	add := decoded.Defs["CronAdd"]
	if len(add.Required) != 2 || add.Required[0] != "action" || add.Required[1] != "schedule" {
		t.Errorf("CronAdd required = %v", add.Required)
	}
	if add.Properties["action"]["const"] != "cron.add" {
		t.Errorf("CronAdd action = %v", add.Properties["action"])
	}
}

// Every field a shape advertises must be accepted by the decoder.
func TestShapesMatchDecoder(t *testing.T) {
	for _, s := range ActionShapes() {
		t.Run(s.Kind, func(t *testing.T) {
			var b strings.Builder
			b.WriteString("- action: " + s.Kind + "\n")
			for _, f := range s.Fields {
				if s.Kind == "script.run" && f.Name == "file" {
					continue
				}
				b.WriteString("  " + f.Name + ": " + sampleValue(f) + "\n")
			}
			if _, err := Parse([]byte(b.String())); err != nil {
				t.Errorf("decoder rejected advertised fields: %v\n%s", err, b.String())
			}
		})
	}
}

func sampleValue(f Field) string {
	switch f.Type {
	case TypeBool:
		return "true"
	case TypeInteger:
		return "1"
	case TypeArray:
		return "[x]"
	case TypeObject:
		return "{}"
	}
	if f.Name == "schedule" {
		return `"@daily"`
	}
	return "x"
}
