package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/atoms/cron"
	"github.com/hostweave/hostweave/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func addStep(t *testing.T, schedule, user string, privileged bool) engine.Step {
	t.Helper()
	s, err := cron.Parse(schedule)
	if err != nil {
		t.Fatalf("Parse(%q): %v", schedule, err)
	}
	return engine.Step{
		Atom:    &cron.Add{Schedule: s, Command: "job.sh", User: user, Privileged: privileged},
		Action:  "cron.add",
		Summary: "Add cron item " + schedule,
	}
}

func evaluate(t *testing.T, eng *Engine, ictx InputContext, steps ...engine.Step) *Result {
	t.Helper()
	input, err := NewInput(steps, ictx)
	if err != nil {
		t.Fatalf("NewInput failed: %v", err)
	}
	result, err := eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.Errors) > 0 {
		t.Fatalf("policy errors: %v", result.Errors)
	}
	return result
}

func TestNewEngine(t *testing.T) {
	policies := newTestEngine(t).ListPolicies()

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
		if !p.Builtin || !p.Enabled {
			t.Errorf("%s should be an enabled built-in", p.Name)
		}
	}
	if strings.Join(names, ",") != "cron-frequency,privileged-user" {
		t.Errorf("built-in policies = %v", names)
	}
}

func TestCronFrequencyPolicy(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		schedule string
		warn     bool
	}{
		{"* * * * *", true},
		{"*/1 * * * *", true},
		{"every minute", true},
		{"0 * * * * *", true},
		{"*/5 * * * *", false},
		{"0 * * * *", false},
		{"@daily", false},
		{"@reboot", false},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			result := evaluate(t, eng, InputContext{User: "alice"}, addStep(t, tt.schedule, "", false))
			if !result.Allowed {
				t.Errorf("frequency findings must not deny: %+v", result.Violations)
			}
			if got := len(result.Warnings) == 1; got != tt.warn {
				t.Fatalf("warnings = %+v, want warning=%v", result.Warnings, tt.warn)
			}
			if tt.warn {
				w := result.Warnings[0]
				if w.Policy != "cron-frequency" || w.Step != 0 || w.Severity != SeverityWarning {
					t.Errorf("warning = %+v", w)
				}
			}
		})
	}
}

func TestPrivilegedUserPolicy(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name    string
		ctx     InputContext
		step    engine.Step
		allowed bool
	}{
		{"other user unprivileged", InputContext{User: "alice"}, addStep(t, "@daily", "bob", false), false},
		{"other user privileged", InputContext{User: "alice"}, addStep(t, "@daily", "bob", true), true},
		{"other user as root", InputContext{User: "root", Root: true}, addStep(t, "@daily", "bob", false), true},
		{"privileged scope", InputContext{User: "alice", ScopePrivileged: true}, addStep(t, "@daily", "bob", false), true},
		{"own crontab", InputContext{User: "alice"}, addStep(t, "@daily", "alice", false), true},
		{"current user", InputContext{User: "alice"}, addStep(t, "@daily", "", false), true},
		{"listing is read-only", InputContext{User: "alice"}, engine.Step{Atom: &cron.List{User: "bob"}, Action: "cron.list"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := evaluate(t, eng, tt.ctx, tt.step)
			if result.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v: %+v", result.Allowed, tt.allowed, result.Violations)
			}
			if !tt.allowed {
				v := result.Violations[0]
				if v.Policy != "privileged-user" || v.Action != "cron.add" || !strings.Contains(v.Message, "bob") {
					t.Errorf("violation = %+v", v)
				}
			}
		})
	}
}

func TestResultErr(t *testing.T) {
	eng := newTestEngine(t)

	ok := evaluate(t, eng, InputContext{User: "alice"}, addStep(t, "@daily", "", false))
	if err := ok.Err(); err != nil {
		t.Errorf("allowed result returned %v", err)
	}

	denied := evaluate(t, eng, InputContext{User: "alice"},
		addStep(t, "@daily", "", false),
		addStep(t, "@hourly", "bob", false),
	)
	err := denied.Err()
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Fatalf("expected policy denied error, got %v", err)
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Step != 1 || ee.Action != "cron.add" {
		t.Errorf("error = %+v", ee)
	}
}

const sitePolicy = `# Jobs must not run scripts from /tmp.
package site.cron

deny contains violation if {
	some step in input.steps
	step.kind == "cron.add"
	startswith(step.params.command, "/tmp/")
	violation := {
		"message": sprintf("%s runs from /tmp", [step.summary]),
		"severity": "error",
		"step": step.index,
		"action": step.action,
	}
}
`

func tmpStep(t *testing.T) engine.Step {
	step := addStep(t, "@daily", "", false)
	step.Atom.(*cron.Add).Command = "/tmp/job.sh"
	return step
}

func TestLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "no-tmp.rego"), []byte(sitePolicy), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	p := findPolicy(eng, "no-tmp")
	if p == nil {
		t.Fatal("no-tmp not loaded")
	}
	if p.Builtin || p.Description != "Jobs must not run scripts from /tmp." {
		t.Errorf("policy = %+v", p)
	}

	result := evaluate(t, eng, InputContext{User: "alice"}, tmpStep(t))
	if result.Allowed || result.Violations[0].Policy != "no-tmp" {
		t.Fatalf("result = %+v", result)
	}

	if err := eng.Replace(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if findPolicy(eng, "no-tmp") != nil {
		t.Error("replace should drop site policies")
	}
	if len(eng.ListPolicies()) != 2 {
		t.Errorf("built-ins must survive a replace: %v", eng.ListPolicies())
	}
}

func TestReplaceRejects(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name   string
		policy Policy
	}{
		{"shadows builtin", Policy{Name: "cron-frequency", Rego: "package x\n", Enabled: true}},
		{"syntax error", Policy{Name: "broken", Rego: "package x\ndeny contains v if {", Enabled: true}},
		{"v0 syntax", Policy{Name: "legacy", Rego: "package x\ndeny[msg] { msg := \"x\" }", Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := eng.Replace(context.Background(), []Policy{tt.policy}); err == nil {
				t.Fatal("expected error")
			}
			if len(eng.ListPolicies()) != 2 {
				t.Errorf("failed replace changed the policy set: %v", eng.ListPolicies())
			}
		})
	}
}

func findPolicy(eng *Engine, name string) *Policy {
	for _, p := range eng.ListPolicies() {
		if p.Name == name {
			return &p
		}
	}
	return nil
}

func TestDisable(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.Disable("privileged-user"); err != nil {
		t.Fatal(err)
	}

	result := evaluate(t, eng, InputContext{User: "alice"}, addStep(t, "@daily", "bob", false))
	if !result.Allowed {
		t.Errorf("disabled policy still denied: %+v", result.Violations)
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "privileged-user" {
			t.Error("disabled policy was evaluated")
		}
	}
	if p := findPolicy(eng, "privileged-user"); p == nil || p.Enabled {
		t.Errorf("listed policy = %+v, want disabled", p)
	}

	if err := eng.Disable("cron-frequency", "missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
	if p := findPolicy(eng, "cron-frequency"); p == nil || !p.Enabled {
		t.Error("a failed Disable must not disable anything")
	}
}

func TestDisableSurvivesReplace(t *testing.T) {
	eng := newTestEngine(t)
	site := Policy{Name: "no-tmp", Rego: sitePolicy, Severity: SeverityError, Enabled: true}

	if err := eng.Replace(context.Background(), []Policy{site}); err != nil {
		t.Fatal(err)
	}
	if err := eng.Disable("no-tmp"); err != nil {
		t.Fatal(err)
	}
	if err := eng.Replace(context.Background(), []Policy{site}); err != nil {
		t.Fatal(err)
	}

	result := evaluate(t, eng, InputContext{User: "alice"}, tmpStep(t))
	for _, v := range result.Violations {
		if v.Policy == "no-tmp" {
			t.Errorf("reloaded policy lost its disabled state: %+v", v)
		}
	}
}

func TestNewInput(t *testing.T) {
	steps := []engine.Step{
		addStep(t, "0 0 * * *", "bob", true),
		{Atom: &cron.List{}, Action: "cron.list", Finalizers: []engine.Atom{&cron.List{}}},
	}
	in, err := NewInput(steps, InputContext{Host: "local"})
	if err != nil {
		t.Fatal(err)
	}

	add := in.Steps[0]
	if add.Kind != "cron.add" || !add.Privileged || add.Params["schedule"] != "0 0 * * *" || add.Params["user"] != "bob" {
		t.Errorf("add input = %+v", add)
	}
	if list := in.Steps[1]; list.Index != 1 || list.Hooks != 1 || list.Kind != "cron.list" {
		t.Errorf("list input = %+v", list)
	}
}
