// Package fault defines the error taxonomy shared across governd.
//
// Every failure that crosses a package boundary is classified with a Code.
// Codes carry default retryability, severity, and alerting behavior; call
// sites override per error where the contract demands it. Only the
// orchestrator boundary translates faults into user-visible error events,
// and only the registry's category message ever reaches the end user.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Code identifies an error category on the wire and in logs.
type Code string

const (
	// CodeValidation marks malformed input. Never retried.
	CodeValidation Code = "VALIDATION"
	// CodeTimeout marks an operation that exceeded its deadline.
	CodeTimeout Code = "TIMEOUT"
	// CodeAuthorization marks a denial by access control. Never retried.
	CodeAuthorization Code = "AUTHORIZATION"
	// CodeApprovalRequired marks a critical action parked for human review.
	// Not a failure: the caller receives a pending result.
	CodeApprovalRequired Code = "HUMAN_APPROVAL_REQUIRED"
	// CodeToolExecution marks a tool collaborator failure. Retryability
	// follows the tool's own contract via WithRetryable.
	CodeToolExecution Code = "TOOL_EXECUTION"
	// CodeMemoryService marks a memory tier failure. Absorbed by the
	// memory facade's fallbacks and never surfaced to the end user.
	CodeMemoryService Code = "MEMORY_SERVICE"
	// CodeUnknownTool marks a request for a tool the registry does not know.
	CodeUnknownTool Code = "UNKNOWN_TOOL"
	// CodeConflict marks a state transition another actor already made.
	CodeConflict Code = "CONFLICT"
	// CodeNotFound marks a lookup for a record that does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInternal marks an unclassified failure.
	CodeInternal Code = "INTERNAL"
)

// Severity grades a fault for logging and alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// attributes holds the default behavior for a code. The message is the
// user-safe category text; technical detail stays in logs.
type attributes struct {
	message   string
	severity  Severity
	retryable bool
	alert     bool
}

var registry = map[Code]attributes{
	CodeValidation:       {message: "invalid input", severity: SeverityInfo, retryable: false, alert: false},
	CodeTimeout:          {message: "the operation timed out", severity: SeverityWarning, retryable: true, alert: true},
	CodeAuthorization:    {message: "you do not have permission for this action", severity: SeverityWarning, retryable: false, alert: false},
	CodeApprovalRequired: {message: "this action is awaiting human approval", severity: SeverityInfo, retryable: false, alert: false},
	CodeToolExecution:    {message: "a tool call failed", severity: SeverityWarning, retryable: false, alert: true},
	CodeMemoryService:    {message: "memory backend unavailable", severity: SeverityWarning, retryable: true, alert: true},
	CodeUnknownTool:      {message: "unknown tool", severity: SeverityWarning, retryable: false, alert: true},
	CodeConflict:         {message: "the request conflicts with a decision already recorded", severity: SeverityInfo, retryable: false, alert: false},
	CodeNotFound:         {message: "not found", severity: SeverityInfo, retryable: false, alert: false},
	CodeInternal:         {message: "an internal error occurred", severity: SeverityCritical, retryable: false, alert: true},
}

func attributesOf(code Code) attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeInternal]
}

// Error is the classified error type used across governd.
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	alert     *bool
}

// Option customizes an Error beyond its code defaults.
type Option func(*Error)

// WithMetadata attaches a key/value pair for logs and audit records.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable overrides the code's default retryability.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithAlert overrides the code's default alerting behavior.
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// New creates a classified error. An empty message takes the code's
// registry message.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = attributesOf(code).message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap classifies an existing error without losing its chain.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is a fault with the same code, so
// errors.Is(err, fault.New(fault.CodeConflict, "")) matches by category.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error category.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

// Message returns the error message.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata returns a copy of the attached key/value pairs.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable reports whether the operation may be attempted again.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return attributesOf(e.code).retryable
}

// ShouldAlert reports whether the fault warrants operator attention.
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return attributesOf(e.code).alert
}

// Severity returns the fault's severity grade.
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return attributesOf(e.code).severity
}

// From extracts a classified error from any error chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the category of any error. Unclassified errors map to
// CodeInternal.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether any error is worth retrying. Context
// cancellation means the caller gave up; an attempt-level deadline is
// transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert reports whether any error warrants operator attention.
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// SeverityOf returns the severity grade of any error.
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return SeverityCritical
}

// UserMessage returns the user-safe category message for any error.
// Technical detail never crosses this boundary.
func UserMessage(err error) string {
	return attributesOf(CodeOf(err)).message
}
