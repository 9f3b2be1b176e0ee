package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hostweave/hostweave/pkg/engine"
)

func TestLoader_Defaults(t *testing.T) {
	s, err := NewLoader(nil).Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	if s.PlanErrors != "abort" {
		t.Errorf("plan_errors = %q, want abort", s.PlanErrors)
	}
	if s.Contexts.Mode != "strict" {
		t.Errorf("contexts.mode = %q, want strict", s.Contexts.Mode)
	}
	if s.Contexts.DNS.Retries != 1 || s.Contexts.DNS.TimeoutDuration() != 5*time.Second {
		t.Errorf("dns = %+v", s.Contexts.DNS)
	}
	if s.Scripts.MaxSteps != 1000000 || s.Scripts.TimeoutDuration() != 30*time.Second {
		t.Errorf("scripts = %+v", s.Scripts)
	}
	if !s.Journal.Enabled || !s.Policy.Enabled {
		t.Errorf("journal/policy should default on: %+v %+v", s.Journal, s.Policy)
	}
	if s.SSH.Port != 22 || s.SSH.DialAttempts != 3 || s.SSH.Auth != "" {
		t.Errorf("ssh = %+v", s.SSH)
	}
	if s.Telemetry.ServiceName != "hostweave" || s.Telemetry.Tracing != "none" {
		t.Errorf("telemetry = %+v", s.Telemetry)
	}
	if !strings.HasSuffix(s.JournalPath(), filepath.Join("hostweave", "journal.db")) {
		t.Errorf("journal path = %s", s.JournalPath())
	}
}

func TestLoader_Overrides(t *testing.T) {
	src := `
plan_errors: "skip"
contexts: {
	mode: "best-effort"
	dns: {
		host:    "facts.example.com"
		retries: 3
		timeout: "750ms"
	}
	scripts: [{prefix: "site", file: "site.star"}]
	wasm: [{prefix: "inventory", file: "inventory.wasm"}]
}
journal: path: "/var/lib/weave/journal.db"
ssh: {
	port: 2222
	auth: "agent"
}
`
	s, err := NewLoader(nil).LoadBytes("weave.cue", []byte(src))
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}

	if s.PlanErrors != "skip" || s.Contexts.Mode != "best-effort" {
		t.Errorf("modes = %q %q", s.PlanErrors, s.Contexts.Mode)
	}
	if s.Contexts.DNS.Host != "facts.example.com" || s.Contexts.DNS.Retries != 3 {
		t.Errorf("dns = %+v", s.Contexts.DNS)
	}
	if s.Contexts.DNS.TimeoutDuration() != 750*time.Millisecond {
		t.Errorf("dns timeout = %v", s.Contexts.DNS.TimeoutDuration())
	}
	if len(s.Contexts.Scripts) != 1 || s.Contexts.Scripts[0].Prefix != "site" {
		t.Errorf("scripts = %+v", s.Contexts.Scripts)
	}
	if len(s.Contexts.Wasm) != 1 || s.Contexts.Wasm[0].Prefix != "inventory" || s.Contexts.Wasm[0].MemoryPages != 256 {
		t.Errorf("wasm = %+v", s.Contexts.Wasm)
	}
	if s.JournalPath() != "/var/lib/weave/journal.db" {
		t.Errorf("journal path = %s", s.JournalPath())
	}
	if s.SSH.Port != 2222 || s.SSH.Auth != "agent" || s.SSH.Timeout != "30s" {
		t.Errorf("ssh = %+v", s.SSH)
	}
}

func TestLoader_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", "plan_errors: ", ""},
		{"bad enum", `plan_errors: "ignore"`, ""},
		{"unknown field", `colour: "blue"`, ""},
		{"negative retries", `contexts: dns: retries: -1`, ""},
		{"bad prefix", `contexts: scripts: [{prefix: "Site", file: "x.star"}]`, ""},
		{"bad duration", `scripts: timeout: "soon"`, "scripts.timeout"},
		{"port range", `ssh: port: 70000`, ""},
		{"ssh password auth", `ssh: auth: "password"`, ""},
		{"no dial attempts", `ssh: dial_attempts: 0`, ""},
		{"wasm memory", `contexts: wasm: [{prefix: "inv", file: "inv.wasm", memory_pages: 0}]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(nil).LoadBytes("weave.cue", []byte(tt.src))
			if !errors.Is(err, engine.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var errs ValidationErrors
			if !errors.As(err, &errs) || len(errs) == 0 {
				t.Fatalf("expected located errors, got %v", err)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %s: %v", tt.want, err)
			}
		})
	}
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("policy: {\n\tenabled: false\n\tdisabled: [\"cron-frequency\"]\n}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := NewLoader(nil).Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Policy.Enabled {
		t.Error("policy should be disabled")
	}
	if len(s.Policy.Disabled) != 1 || s.Policy.Disabled[0] != "cron-frequency" {
		t.Errorf("Disabled = %v", s.Policy.Disabled)
	}

	if _, err := NewLoader(nil).Load(filepath.Join(dir, "missing.cue")); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error for missing file, got %v", err)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.cue")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	got, ok, err := Find(path)
	if err != nil || !ok || got != path {
		t.Errorf("Find(%s) = %q, %v, %v", path, got, ok, err)
	}
	if _, _, err := Find(filepath.Join(dir, "nope.cue")); err == nil {
		t.Error("expected error for missing explicit file")
	}
}
