// Package errcode defines the engine-wide error taxonomy.
//
// Every failure the engine can surface carries one of the codes below. Layers
// add context with fmt.Errorf("...: %w", err) but never rewrap the code; the
// HTTP facade translates codes to status codes exactly once at the edge.
package errcode

import (
	"errors"
	"fmt"
)

// Code identifies an error category on the wire.
type Code string

const (
	ValidationError          Code = "validationError"
	NotFound                 Code = "notFound"
	BusinessLogicError       Code = "businessLogicError"
	FileUploadError          Code = "fileUploadError"
	ParserError              Code = "parserError"
	LifecycleViolation       Code = "lifecycleViolation"
	CompileError             Code = "compileError"
	Timeout                  Code = "timeout"
	Cancelled                Code = "cancelled"
	PayloadTooLarge          Code = "payloadTooLarge"
	TooManyDies              Code = "tooManyDies"
	UnknownPlugin            Code = "unknownPlugin"
	NoEligibleRules          Code = "noEligibleRules"
	EmptyWafer               Code = "emptyWafer"
	ToolConstraintInfeasible Code = "toolConstraintInfeasible"
	Internal                 Code = "internalError"
)

// FieldError describes a single invalid field within an aggregated error.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error is the canonical engine error. Details carries machine-readable
// context (ids, limits); FieldErrors carries per-field validation issues.
type Error struct {
	Code        Code           `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	FieldErrors []FieldError   `json:"validation_errors,omitempty"`
	cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that records err as its cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// WithDetail attaches a key/value pair to the error's details map.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithFieldErrors attaches per-field validation issues.
func (e *Error) WithFieldErrors(fields ...FieldError) *Error {
	e.FieldErrors = append(e.FieldErrors, fields...)
	return e
}

// CodeOf extracts the Code from an error chain. Unrecognized errors map to
// Internal so the facade never leaks raw error strings as codes.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// AsError extracts the *Error from a chain, or wraps err as Internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Internal, Message: "unexpected error", cause: err}
}
