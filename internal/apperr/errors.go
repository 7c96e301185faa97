// Package apperr defines the error taxonomy shared by the pricing, loan,
// voting and governance engines.
package apperr

import "fmt"

// Code is a machine-readable error code.
type Code string

const (
	// CodeInvalidInput marks a non-positive surface, cost or rate, or an
	// otherwise malformed argument.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeDivisionByZero marks an empty quotité denominator.
	CodeDivisionByZero Code = "DIVISION_BY_ZERO"
	// CodeMissingConfiguration marks a calculation that needs configuration
	// the caller did not supply.
	CodeMissingConfiguration Code = "MISSING_CONFIGURATION"
	// CodePolicyViolation marks an operation exceeding a structural limit.
	CodePolicyViolation Code = "POLICY_VIOLATION"
	// CodeIllegalTransition marks an event delivered to a finished machine.
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
	// CodeNotFound marks a missing record.
	CodeNotFound Code = "NOT_FOUND"
)

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrInvalidInput         = &Error{Code: CodeInvalidInput, Message: "invalid input"}
	ErrDivisionByZero       = &Error{Code: CodeDivisionByZero, Message: "division by zero"}
	ErrMissingConfiguration = &Error{Code: CodeMissingConfiguration, Message: "missing configuration"}
	ErrPolicyViolation      = &Error{Code: CodePolicyViolation, Message: "policy violation"}
	ErrIllegalTransition    = &Error{Code: CodeIllegalTransition, Message: "illegal transition"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
)

// Error is the engine error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// InvalidInput is shorthand for Newf(CodeInvalidInput, ...).
func InvalidInput(format string, args ...any) *Error {
	return Newf(CodeInvalidInput, format, args...)
}

// CodeOf extracts the code of the first *Error in the chain, or "" if none.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
