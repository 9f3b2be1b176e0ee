package contexts

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Mode controls how provider failures affect resolution.
type Mode string

const (
	// ModeStrict fails resolution when any provider fails.
	ModeStrict Mode = "strict"

	// ModeBestEffort marks a failing provider's namespace unavailable and
	// keeps the rest.
	ModeBestEffort Mode = "best-effort"
)

// Validate checks if the mode is valid.
func (m Mode) Validate() error {
	switch m {
	case ModeStrict, ModeBestEffort:
		return nil
	default:
		return fmt.Errorf("invalid contexts mode: %s", m)
	}
}

var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Observer is notified after each provider finishes. Metrics hook in here.
type Observer func(prefix string, facts int, duration time.Duration, err error)

// Registry holds the providers for a run.
type Registry struct {
	mode      Mode
	logger    zerolog.Logger
	observer  Observer
	providers []Provider
	prefixes  map[string]struct{}
}

// NewRegistry creates an empty registry. An empty mode means strict.
func NewRegistry(mode Mode, logger zerolog.Logger) *Registry {
	if mode == "" {
		mode = ModeStrict
	}
	return &Registry{
		mode:     mode,
		logger:   logger.With().Str("component", "contexts").Logger(),
		prefixes: make(map[string]struct{}),
	}
}

// SetObserver installs a callback invoked once per provider per Resolve.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// Register adds a provider. Prefixes must be unique and lowercase
// identifiers without dots.
func (r *Registry) Register(p Provider) error {
	prefix := p.Prefix()
	if !prefixPattern.MatchString(prefix) {
		return engine.NewValidationError(fmt.Sprintf("invalid context prefix %q", prefix), nil)
	}
	if _, exists := r.prefixes[prefix]; exists {
		return engine.NewValidationError(fmt.Sprintf("context prefix %q already registered", prefix), nil)
	}
	r.prefixes[prefix] = struct{}{}
	r.providers = append(r.providers, p)
	return nil
}

// Prefixes returns the registered prefixes, sorted.
func (r *Registry) Prefixes() []string {
	out := make([]string, 0, len(r.prefixes))
	for prefix := range r.prefixes {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}

type providerResult struct {
	prefix string
	facts  []Context
	err    error
}

// Resolve queries every provider concurrently and merges their facts. The
// result does not depend on registration order or completion order.
func (r *Registry) Resolve(ctx context.Context) (*Contexts, error) {
	results := make([]providerResult, len(r.providers))

	var g *errgroup.Group
	gctx := ctx
	if r.mode == ModeStrict {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}

	for i, p := range r.providers {
		g.Go(func() error {
			start := time.Now()
			facts, err := p.Contexts(gctx)
			if err == nil {
				err = checkKeys(facts)
			}
			if r.observer != nil {
				r.observer(p.Prefix(), len(facts), time.Since(start), err)
			}

			results[i] = providerResult{prefix: p.Prefix(), facts: facts, err: err}

			if err != nil && r.mode == ModeStrict {
				return engine.NewPlanError(engine.ErrCodeContextFailed,
					fmt.Sprintf("context provider %q failed", p.Prefix()), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &Contexts{
		values:      make(map[string]string),
		unavailable: make(map[string]error),
	}
	for _, res := range results {
		if res.err != nil {
			r.logger.Warn().Err(res.err).Str("prefix", res.prefix).Msg("Context provider unavailable")
			c.unavailable[res.prefix] = res.err
			continue
		}
		for _, fact := range res.facts {
			name := res.prefix + "." + fact.Key
			c.values[name] = fact.Value
			c.keys = append(c.keys, name)
		}
		r.logger.Debug().Str("prefix", res.prefix).Int("facts", len(res.facts)).Msg("Context provider resolved")
	}
	sortKeys(c.keys)

	return c, nil
}

func checkKeys(facts []Context) error {
	seen := make(map[string]struct{}, len(facts))
	for _, fact := range facts {
		if fact.Key == "" {
			return fmt.Errorf("empty context key")
		}
		if _, dup := seen[fact.Key]; dup {
			return fmt.Errorf("duplicate context key %q", fact.Key)
		}
		seen[fact.Key] = struct{}{}
	}
	return nil
}
