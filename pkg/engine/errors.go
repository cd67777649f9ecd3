package engine

import (
	"errors"
	"fmt"
)

// ErrorScope classifies how far an error's blast radius extends. The
// pipeline aborts the whole run on structural errors, and collects
// policy- and target-scoped errors as results.
type ErrorScope string

const (
	// ScopeRun marks a structural error: the registry snapshot itself is
	// invalid and nothing downstream can be trusted.
	ScopeRun ErrorScope = "run"

	// ScopePolicy marks an error confined to a single policy; other
	// policies in the batch are unaffected.
	ScopePolicy ErrorScope = "policy"

	// ScopeTarget marks an error confined to a single (policy, platform,
	// scope) rendering target.
	ScopeTarget ErrorScope = "target"
)

// Error codes for programmatic handling.
const (
	ErrCodeDuplicateObject     = "DUPLICATE_OBJECT"
	ErrCodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	ErrCodeCyclicMembership    = "CYCLIC_MEMBERSHIP"
	ErrCodeUnknownService      = "UNKNOWN_SERVICE"
	ErrCodeWildcardPolicy      = "WILDCARD_POLICY"
	ErrCodeUnknownPlatform     = "UNKNOWN_PLATFORM"
	ErrCodeUnsupportedStrategy = "UNSUPPORTED_STRATEGY"
	ErrCodeInvalidMapping      = "INVALID_MAPPING"
	ErrCodeInvalidRuleSet      = "INVALID_RULE_SET"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Error is a classified pipeline error. Every failure carries the
// identifying key (object name, policy name, platform/scope) a human
// needs to act on it.
type Error struct {
	// Scope is the blast-radius classification.
	Scope ErrorScope `json:"scope"`

	// Code is the machine-readable error code.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Object is the object or policy name the error refers to.
	Object string `json:"object,omitempty"`

	// Platform and TargetScope locate target-scoped errors.
	Platform    string `json:"platform,omitempty"`
	TargetScope string `json:"target_scope,omitempty"`

	// Err is the wrapped cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Object != "" {
		msg += fmt.Sprintf(" (object=%s)", e.Object)
	}
	if e.Platform != "" {
		msg += fmt.Sprintf(" (platform=%s, scope=%s)", e.Platform, e.TargetScope)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on scope and code so sentinel comparisons via errors.Is work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Scope == t.Scope && e.Code == t.Code
}

// NewRunError creates a structural, run-aborting error.
func NewRunError(code, message string, err error) *Error {
	return &Error{Scope: ScopeRun, Code: code, Message: message, Err: err}
}

// NewPolicyError creates an error confined to a single policy.
func NewPolicyError(code, message string, err error) *Error {
	return &Error{Scope: ScopePolicy, Code: code, Message: message, Err: err}
}

// NewTargetError creates an error confined to a single rendering target.
func NewTargetError(code, message string, err error) *Error {
	return &Error{Scope: ScopeTarget, Code: code, Message: message, Err: err}
}

// WithObject attaches the object or policy name the error refers to.
func (e *Error) WithObject(name string) *Error {
	e.Object = name
	return e
}

// WithTarget attaches the platform and scope of a target-scoped error.
func (e *Error) WithTarget(platform, scope string) *Error {
	e.Platform = platform
	e.TargetScope = scope
	return e
}

// IsStructural reports whether err is a run-aborting structural error.
func IsStructural(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Scope == ScopeRun
	}
	return false
}

// CodeOf returns the error code of err, or ErrCodeInternal for
// unclassified errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// AsError converts err to an *Error, classifying unrecognized errors as
// internal target-scoped failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewTargetError(ErrCodeInternal, "unclassified failure", err)
}
