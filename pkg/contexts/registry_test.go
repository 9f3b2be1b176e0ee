package contexts

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/engine"
)

type staticProvider struct {
	prefix string
	facts  []Context
	err    error
	delay  time.Duration
}

func (p *staticProvider) Prefix() string { return p.prefix }

func (p *staticProvider) Contexts(ctx context.Context) ([]Context, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.facts, p.err
}

func newRegistry(t *testing.T, mode Mode, providers ...Provider) *Registry {
	t.Helper()
	r := NewRegistry(mode, zerolog.Nop())
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register(%s) failed: %v", p.Prefix(), err)
		}
	}
	return r
}

func TestRegistry_MergeIsOrderIndependent(t *testing.T) {
	a := &staticProvider{prefix: "user", facts: []Context{KeyValue("name", "alice"), KeyValue("home_dir", "/home/alice")}, delay: 20 * time.Millisecond}
	b := &staticProvider{prefix: "dns", facts: []Context{KeyValue("env", "prod")}}
	c := &staticProvider{prefix: "host", facts: []Context{KeyValue("os", "linux")}, delay: 5 * time.Millisecond}

	first, err := newRegistry(t, ModeStrict, a, b, c).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := newRegistry(t, ModeStrict, c, a, b).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []string{"dns.env", "host.os", "user.home_dir", "user.name"}
	if !reflect.DeepEqual(first.Keys(), want) {
		t.Errorf("keys = %v, want %v", first.Keys(), want)
	}
	if !reflect.DeepEqual(first.Keys(), second.Keys()) || !reflect.DeepEqual(first.Map(), second.Map()) {
		t.Error("registration order changed the merged result")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(ModeStrict, zerolog.Nop())
	if err := r.Register(&staticProvider{prefix: "user"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tests := []struct {
		name   string
		prefix string
	}{
		{"duplicate", "user"},
		{"empty", ""},
		{"dotted", "a.b"},
		{"uppercase", "User"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(&staticProvider{prefix: tt.prefix})
			if !errors.Is(err, engine.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	if got := r.Prefixes(); !reflect.DeepEqual(got, []string{"user"}) {
		t.Errorf("prefixes = %v", got)
	}
}

func TestRegistry_StrictModeFails(t *testing.T) {
	r := newRegistry(t, ModeStrict,
		&staticProvider{prefix: "user", facts: []Context{KeyValue("name", "alice")}},
		&staticProvider{prefix: "dns", err: errors.New("i/o timeout")},
	)

	_, err := r.Resolve(context.Background())
	if !errors.Is(err, engine.ErrContextFailed) {
		t.Fatalf("expected ErrContextFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), `"dns"`) {
		t.Errorf("error should name the provider: %v", err)
	}
}

func TestRegistry_BestEffortMarksUnavailable(t *testing.T) {
	r := newRegistry(t, ModeBestEffort,
		&staticProvider{prefix: "user", facts: []Context{KeyValue("name", "alice")}},
		&staticProvider{prefix: "dns", err: errors.New("i/o timeout")},
	)

	c, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := c.Unavailable(); !reflect.DeepEqual(got, []string{"dns"}) {
		t.Errorf("unavailable = %v", got)
	}
	if v, err := c.Lookup("user.name"); err != nil || v != "alice" {
		t.Errorf("Lookup(user.name) = %q, %v", v, err)
	}

	_, err = c.Lookup("dns.env")
	if !errors.Is(err, engine.ErrUnresolvedVariable) {
		t.Fatalf("expected ErrUnresolvedVariable, got %v", err)
	}
	if !strings.Contains(err.Error(), "i/o timeout") {
		t.Errorf("error should carry the provider failure: %v", err)
	}
}

func TestRegistry_DuplicateKeysFailProvider(t *testing.T) {
	r := newRegistry(t, ModeStrict, &staticProvider{
		prefix: "user",
		facts:  []Context{KeyValue("name", "a"), KeyValue("name", "b")},
	})
	if _, err := r.Resolve(context.Background()); !errors.Is(err, engine.ErrContextFailed) {
		t.Fatalf("expected ErrContextFailed, got %v", err)
	}
}

func TestRegistry_Observer(t *testing.T) {
	r := newRegistry(t, ModeBestEffort,
		&staticProvider{prefix: "user", facts: []Context{KeyValue("name", "alice")}},
		&staticProvider{prefix: "dns", err: errors.New("refused")},
	)

	type call struct {
		facts  int
		failed bool
	}
	var mu sync.Mutex
	got := map[string]call{}
	r.SetObserver(func(prefix string, facts int, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		got[prefix] = call{facts, err != nil}
	})

	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := map[string]call{"user": {1, false}, "dns": {0, true}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("observer calls = %v, want %v", got, want)
	}
}

func TestContexts_Render(t *testing.T) {
	c := New(map[string]string{
		"user.home_dir": "/home/alice",
		"dns.env":       "prod",
	})

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"no tokens", "0 0 * * * backup.sh", "0 0 * * * backup.sh", false},
		{"single", "{{ user.home_dir }}/bin/backup.sh", "/home/alice/bin/backup.sh", false},
		{"no spaces", "{{dns.env}}", "prod", false},
		{"several", "{{ user.home_dir }}/{{ dns.env }}.sh", "/home/alice/prod.sh", false},
		{"missing key", "{{ user.shell }}", "", true},
		{"missing prefix", "{{ ldap.uid }}", "", true},
		{"no namespace", "{{ home }}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Render(tt.input)
			if tt.wantErr {
				if !errors.Is(err, engine.ErrUnresolvedVariable) {
					t.Fatalf("expected ErrUnresolvedVariable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContexts_RenderNamesToken(t *testing.T) {
	_, err := New(nil).Render("{{ user.shell }}")
	if err == nil || !strings.Contains(err.Error(), "user.shell") {
		t.Fatalf("expected error naming user.shell, got %v", err)
	}
}
