package policy

import (
	"time"
)

// Severity grades a finding. Error and critical findings deny the plan.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module. Its deny rules produce violations.
type Policy struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rego        string `json:"rego"`

	// Severity applies to findings whose rule does not set one.
	Severity Severity `json:"severity"`
	Enabled  bool     `json:"enabled"`

	// Builtin policies ship with weave and survive Engine.Replace.
	Builtin bool     `json:"builtin,omitempty"`
	Tags    []string `json:"tags,omitempty"`

	// Source is the file the policy came from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one finding of a deny rule.
type Violation struct {
	Policy string `json:"policy"`

	// Step indexes the offending step, or is -1 for plan-wide findings.
	Step     int      `json:"step"`
	Action   string   `json:"action,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against a plan.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`

	// Errors names policies that failed to evaluate. They do not deny.
	Errors            []string `json:"errors,omitempty"`
	EvaluatedPolicies []string `json:"evaluated_policies"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Steps   []StepInput  `json:"steps"`
	Context InputContext `json:"context"`
}

// StepInput describes one planned step.
type StepInput struct {
	Index      int            `json:"index"`
	Action     string         `json:"action"`
	Summary    string         `json:"summary"`
	Kind       string         `json:"kind"`
	Privileged bool           `json:"privileged"`
	Params     map[string]any `json:"params"`
	Hooks      int            `json:"hooks"`
}

// InputContext describes who the plan runs as and where.
type InputContext struct {
	// User is the login the plan runs as.
	User string `json:"user,omitempty"`

	// Root is true when that login is root.
	Root bool `json:"root"`

	// Host is the target host, "local" for this machine.
	Host string `json:"host"`

	// ScopePrivileged is the manifest scope's privilege flag.
	ScopePrivileged bool `json:"scope_privileged"`

	DryRun    bool      `json:"dry_run"`
	Timestamp time.Time `json:"timestamp"`
}
