// Package contexts resolves the variable namespace manifests refer to as
// {{ provider.key }}. Each Provider contributes facts under its own prefix;
// the Registry queries every provider once per run and merges the results
// into a read-only Contexts value.
package contexts

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Unknown is reported for facts a provider knows about but cannot determine.
const Unknown = "unknown"

// Context is a single fact.
type Context struct {
	Key   string
	Value string
}

// KeyValue builds a Context.
func KeyValue(key, value string) Context {
	return Context{Key: key, Value: value}
}

// Provider produces facts under a fixed prefix.
type Provider interface {
	// Prefix is the namespace the provider's keys live in, e.g. "user".
	Prefix() string

	// Contexts returns the provider's facts. Keys are relative to Prefix.
	Contexts(ctx context.Context) ([]Context, error)
}

// Contexts is the resolved, read-only namespace for a run.
type Contexts struct {
	values      map[string]string
	keys        []string
	unavailable map[string]error
}

// New builds Contexts from fully qualified keys. It is mostly useful in tests.
func New(values map[string]string) *Contexts {
	c := &Contexts{
		values:      make(map[string]string, len(values)),
		unavailable: make(map[string]error),
	}
	for k, v := range values {
		c.values[k] = v
		c.keys = append(c.keys, k)
	}
	sortKeys(c.keys)
	return c
}

// Get returns the value of a fully qualified key such as "user.home_dir".
func (c *Contexts) Get(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.values[name]
	return v, ok
}

// Lookup is Get with a plan error for missing keys. A key under a prefix
// whose provider failed in best-effort mode reports that failure.
func (c *Contexts) Lookup(name string) (string, error) {
	if v, ok := c.Get(name); ok {
		return v, nil
	}
	if c != nil {
		prefix, _, _ := strings.Cut(name, ".")
		if err, failed := c.unavailable[prefix]; failed {
			return "", engine.NewUnresolvedVariableError(name,
				fmt.Errorf("context provider %q unavailable: %w", prefix, err))
		}
	}
	return "", engine.NewUnresolvedVariableError(name, nil)
}

// Keys returns every fully qualified key, sorted by prefix then key.
func (c *Contexts) Keys() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.keys...)
}

// Len returns the number of facts.
func (c *Contexts) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Map returns a copy of the namespace for handing to scripts.
func (c *Contexts) Map() map[string]any {
	out := make(map[string]any, c.Len())
	if c == nil {
		return out
	}
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Unavailable lists the prefixes whose providers failed, sorted.
func (c *Contexts) Unavailable() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.unavailable))
	for prefix := range c.unavailable {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}

// UnavailableErr returns the error that made prefix unavailable.
func (c *Contexts) UnavailableErr(prefix string) error {
	if c == nil {
		return nil
	}
	return c.unavailable[prefix]
}

// sortKeys orders fully qualified keys by prefix, then key.
func sortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		pi, ki, _ := strings.Cut(keys[i], ".")
		pj, kj, _ := strings.Cut(keys[j], ".")
		if pi != pj {
			return pi < pj
		}
		return ki < kj
	})
}

var variablePattern = regexp.MustCompile(`\{\{\s*([^{}\s]*)\s*\}\}`)

// Render replaces every {{ provider.key }} token in s. The first token that
// does not resolve fails the whole render.
func (c *Contexts) Render(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var firstErr error
	out := variablePattern.ReplaceAllStringFunc(s, func(token string) string {
		if firstErr != nil {
			return token
		}
		name := variablePattern.FindStringSubmatch(token)[1]
		if !strings.Contains(name, ".") {
			firstErr = engine.NewUnresolvedVariableError(name,
				fmt.Errorf("variable must be of the form provider.key"))
			return token
		}
		v, err := c.Lookup(name)
		if err != nil {
			firstErr = err
			return token
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
