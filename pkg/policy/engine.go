package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/engine"
)

// Engine checks plans against Rego policies. Each policy module is queried
// for its deny set; every member becomes a Violation.
//
// The built-in policies are always present. Site policies come from
// LoadPolicies or Replace and can be swapped while plans are evaluated.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*prepared
	disabled map[string]bool
	logger   zerolog.Logger
}

// prepared is a policy with its deny query ready to evaluate.
type prepared struct {
	policy Policy
	deny   rego.PreparedEvalQuery
}

// NewEngine returns an engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*prepared),
		disabled: make(map[string]bool),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	ctx := context.Background()
	for _, p := range BuiltinPolicies() {
		pp, err := prepare(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("built-in policy %s: %w", p.Name, err)
		}
		e.policies[p.Name] = pp
	}

	e.logger.Debug().Int("count", len(e.policies)).Msg("Built-in policies ready")
	return e, nil
}

// prepare parses p as a Rego v1 module and prepares data.<package>.deny.
func prepare(ctx context.Context, p Policy) (*prepared, error) {
	mod, err := ast.ParseModuleWithOpts(p.Name, p.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	deny := mod.Package.Path.String() + ".deny"
	query, err := rego.New(rego.ParsedModule(mod), rego.Query(deny)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", deny, err)
	}
	return &prepared{policy: p, deny: query}, nil
}

// Evaluate runs every enabled policy against input. A policy that fails to
// evaluate is recorded in Result.Errors and does not deny the plan.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()

	doc, err := ast.InterfaceToValue(input)
	if err != nil {
		return nil, fmt.Errorf("policy input: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: start}
	for _, name := range e.names() {
		pp := e.policies[name]
		if !pp.policy.Enabled || e.disabled[name] {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		found, err := pp.violations(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, engine.NewCancelledError("policy evaluation cancelled", ctx.Err())
			}
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		for _, v := range found {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(start)
	e.logger.Debug().
		Int("steps", len(input.Steps)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Plan checked")

	return result, nil
}

// violations evaluates the deny set against doc.
func (pp *prepared) violations(ctx context.Context, doc ast.Value) ([]Violation, error) {
	rs, err := pp.deny.Eval(ctx, rego.EvalParsedInput(doc))
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, r := range rs {
		if len(r.Expressions) == 0 {
			continue
		}
		set, ok := r.Expressions[0].Value.([]any)
		if !ok {
			continue
		}
		for _, member := range set {
			out = append(out, pp.violation(member))
		}
	}
	return out, nil
}

// violation decodes one deny member: a message string, or an object with
// message and optional severity, step and action.
func (pp *prepared) violation(member any) Violation {
	v := Violation{Policy: pp.policy.Name, Severity: pp.policy.Severity, Step: -1}

	obj, ok := member.(map[string]any)
	if !ok {
		if s, ok := member.(string); ok {
			v.Message = s
		} else {
			v.Message = fmt.Sprint(member)
		}
		return v
	}

	v.Message, _ = obj["message"].(string)
	v.Action, _ = obj["action"].(string)
	if sev, ok := obj["severity"].(string); ok {
		v.Severity = Severity(sev)
	}
	switch n := obj["step"].(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			v.Step = int(i)
		}
	case float64:
		v.Step = int(n)
	case int:
		v.Step = n
	}
	return v
}

// Err returns a POLICY_DENIED plan error listing the blocking violations,
// or nil when the plan is allowed.
func (r *Result) Err() error {
	if r == nil || r.Allowed {
		return nil
	}
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.Policy+": "+v.Message)
	}
	err := engine.NewPlanError(engine.ErrCodePolicyDenied,
		"plan denied by policy: "+strings.Join(msgs, "; "), nil).
		WithDetail("violations", len(r.Violations))
	if first := r.Violations[0]; first.Step >= 0 {
		err.WithStep(first.Step).WithAction(first.Action)
	}
	return err
}

// LoadPolicies reads the policy files under paths and installs them with
// Replace.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return e.Replace(ctx, policies)
}

// Replace swaps every site policy for policies, keeping the built-ins. All
// of policies are prepared first; on any error the engine is unchanged.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	next := make(map[string]*prepared, len(policies))
	for _, p := range policies {
		pp, err := prepare(ctx, p)
		if err != nil {
			return fmt.Errorf("policy %s: %w", p.Name, err)
		}
		next[p.Name] = pp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name := range next {
		if cur, ok := e.policies[name]; ok && cur.policy.Builtin {
			return fmt.Errorf("policy %s shadows a built-in policy", name)
		}
	}
	maps.DeleteFunc(e.policies, func(_ string, pp *prepared) bool { return !pp.policy.Builtin })
	maps.Copy(e.policies, next)

	e.logger.Info().Int("count", len(next)).Msg("Site policies installed")
	return nil
}

// ListPolicies returns all loaded policies sorted by name. Policies turned
// off with Disable are reported as not enabled.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.names() {
		p := e.policies[name].policy
		p.Enabled = p.Enabled && !e.disabled[name]
		out = append(out, p)
	}
	return out
}

// Disable stops the named policies from being evaluated. It outlives
// Replace, so a reloaded policy keeps its disabled state. Naming a policy
// that is not loaded is an error and disables nothing.
func (e *Engine) Disable(names ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, name := range names {
		if _, ok := e.policies[name]; !ok {
			return fmt.Errorf("cannot disable policy %s: not loaded", name)
		}
	}
	for _, name := range names {
		e.disabled[name] = true
	}
	if len(names) > 0 {
		e.logger.Info().Strs("policies", names).Msg("Policies disabled")
	}
	return nil
}

// names must be called with mu held.
func (e *Engine) names() []string {
	return slices.Sorted(maps.Keys(e.policies))
}
