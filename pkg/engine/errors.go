package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error. The Runner and the
// Planner decide whether to continue or abort a run based on the class.
type ErrorClass string

const (
	// ErrorClassValidation indicates a malformed manifest: bad shape, unknown
	// action, or missing required field. Raised before planning begins.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassPlan indicates an action could not be compiled into steps.
	// Examples: unparsable schedule, unresolved context variable.
	ErrorClassPlan ErrorClass = "plan"

	// ErrorClassExecution indicates a primitive operation failed against the host.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: DNS timeouts, dropped SSH connections.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassCancelled indicates the run deadline passed or the run was
	// cancelled externally.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// EngineError is an error with a class, a stable code and the step it came
// from. The CLI maps the class to an exit status.
//
//nolint:revive // engine.EngineError reads better than engine.Error at call sites.
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`

	// Action and Step locate the failure in the manifest; Step is -1 outside
	// a step.
	Action string `json:"action,omitempty"`
	Step   int    `json:"step"`

	// Operation names the step phase: validate, plan, execute or a hook.
	Operation string `json:"operation,omitempty"`

	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Action != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (action=%s, operation=%s)", msg, e.Action, e.Operation)
	} else if e.Action != "" {
		msg = fmt.Sprintf("%s (action=%s)", msg, e.Action)
	} else if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches a target with the same class and, when the target has one, the
// same code. The sentinels below rely on this.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if e.Class != t.Class {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Step:    -1,
		Err:     err,
	}
}

// NewValidationError reports bad input: a manifest, flag or setting.
func NewValidationError(message string, err error) *EngineError {
	return newError(ErrorClassValidation, ErrCodeValidation, message, err)
}

// NewPlanError reports an action that could not become steps.
func NewPlanError(code, message string, err error) *EngineError {
	return newError(ErrorClassPlan, code, message, err)
}

// NewInvalidScheduleError reports a schedule expression neither the
// natural-language translator nor the strict parser accepted.
func NewInvalidScheduleError(input string, err error) *EngineError {
	return NewPlanError(ErrCodeInvalidSchedule, fmt.Sprintf("invalid schedule %q", input), err).
		WithDetail("input", input)
}

// NewUnresolvedVariableError reports a manifest reference to a context key
// that does not exist.
func NewUnresolvedVariableError(name string, err error) *EngineError {
	return NewPlanError(ErrCodeUnresolvedVariable, fmt.Sprintf("unresolved variable %q", name), err).
		WithDetail("variable", name)
}

// NewExecutionError reports a failure against the host.
func NewExecutionError(message string, err error) *EngineError {
	return newError(ErrorClassExecution, ErrCodeExecutionFailed, message, err)
}

// NewAtomInvalidError reports atom parameters that cannot be acted on.
func NewAtomInvalidError(reason string, err error) *EngineError {
	return newError(ErrorClassExecution, ErrCodeAtomInvalid, reason, err)
}

// NewTransientError reports a failure that may pass on a later attempt.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, ErrCodeTransient, message, err)
}

// NewCancelledError reports a run stopped by its context.
func NewCancelledError(message string, err error) *EngineError {
	return newError(ErrorClassCancelled, ErrCodeCancelled, message, err)
}

// The With methods set a field in place and return e for chaining.

func (e *EngineError) WithAction(action string) *EngineError {
	e.Action = action
	return e
}

func (e *EngineError) WithStep(index int) *EngineError {
	e.Step = index
	return e
}

func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == class
}

// IsValidation reports whether err carries a validation-class EngineError.
func IsValidation(err error) bool { return hasClass(err, ErrorClassValidation) }

// IsPlan reports whether err carries a plan-class EngineError.
func IsPlan(err error) bool { return hasClass(err, ErrorClassPlan) }

func IsTransient(err error) bool { return hasClass(err, ErrorClassTransient) }
func IsCancelled(err error) bool { return hasClass(err, ErrorClassCancelled) }

// Error codes, stable across releases.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeUnknownAction      = "UNKNOWN_ACTION"
	ErrCodeMissingField       = "MISSING_FIELD"
	ErrCodeInvalidSchedule    = "INVALID_SCHEDULE"
	ErrCodeUnresolvedVariable = "UNRESOLVED_VARIABLE"
	ErrCodeContextFailed      = "CONTEXT_FAILED"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeAtomInvalid        = "ATOM_INVALID"
	ErrCodeExecutionFailed    = "EXECUTION_FAILED"
	ErrCodeTransient          = "TRANSIENT"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Sentinels for errors.Is.
var (
	ErrValidation         = &EngineError{Class: ErrorClassValidation}
	ErrUnknownAction      = &EngineError{Class: ErrorClassValidation, Code: ErrCodeUnknownAction}
	ErrMissingField       = &EngineError{Class: ErrorClassValidation, Code: ErrCodeMissingField}
	ErrInvalidSchedule    = &EngineError{Class: ErrorClassPlan, Code: ErrCodeInvalidSchedule}
	ErrUnresolvedVariable = &EngineError{Class: ErrorClassPlan, Code: ErrCodeUnresolvedVariable}
	ErrContextFailed      = &EngineError{Class: ErrorClassPlan, Code: ErrCodeContextFailed}
	ErrPolicyDenied       = &EngineError{Class: ErrorClassPlan, Code: ErrCodePolicyDenied}
	ErrAtomInvalid        = &EngineError{Class: ErrorClassExecution, Code: ErrCodeAtomInvalid}
	ErrExecutionFailed    = &EngineError{Class: ErrorClassExecution, Code: ErrCodeExecutionFailed}
	ErrTransient          = &EngineError{Class: ErrorClassTransient}
	ErrCancelled          = &EngineError{Class: ErrorClassCancelled}
)
