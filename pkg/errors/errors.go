// Package errors defines the structured error kinds propagated across the
// EPU control plane. Every error carries a stable Code so the message RPC
// layer can put it on the wire as data instead of a formatted string a
// caller would have to prefix-parse (see DESIGN.md's Open Question note).
package errors

import "fmt"

// Code is a stable, wire-safe error identifier.
type Code string

const (
	CodeNotFound              Code = "not_found"
	CodeWriteConflict         Code = "write_conflict"
	CodeUserNotPermitted      Code = "user_not_permitted"
	CodeDeployableTypeLookup  Code = "deployable_type_lookup"
	CodeBroker                Code = "broker_error"
	CodeContextNotFound       Code = "context_not_found"
	CodeInvalidCreds          Code = "invalid_creds"
	CodeDriver                Code = "driver_error"
	CodeSupervisor            Code = "supervisor_error"
	CodeInvalid               Code = "invalid_request"
)

// Error is the common structured error type. Code identifies the kind for
// programmatic handling; Message is human-readable detail.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound indicates the addressed entity does not exist.
func NotFound(format string, args ...any) error { return newf(CodeNotFound, format, args...) }

// WriteConflict indicates a store CAS failure; the caller should re-read
// and retry.
func WriteConflict(format string, args ...any) error { return newf(CodeWriteConflict, format, args...) }

// UserNotPermitted indicates the caller is not the owner of the entity.
func UserNotPermitted(format string, args ...any) error {
	return newf(CodeUserNotPermitted, format, args...)
}

// DeployableTypeLookup indicates DTRS failed to resolve a deployable type.
// Terminal for the request that triggered it.
func DeployableTypeLookup(cause error, format string, args ...any) error {
	e := newf(CodeDeployableTypeLookup, format, args...)
	e.Cause = cause
	return e
}

// Broker indicates a transient context-broker outage. The launch stays in
// progress and the call is retried on the next tick.
func Broker(cause error, format string, args ...any) error {
	e := newf(CodeBroker, format, args...)
	e.Cause = cause
	return e
}

// ContextNotFound indicates a permanent context-broker failure. Terminal
// for the launch.
func ContextNotFound(format string, args ...any) error {
	return newf(CodeContextNotFound, format, args...)
}

// InvalidCreds indicates the IaaS driver rejected the configured
// credentials. Terminal for the affected nodes.
func InvalidCreds(cause error, format string, args ...any) error {
	e := newf(CodeInvalidCreds, format, args...)
	e.Cause = cause
	return e
}

// Driver wraps any other IaaS driver failure. Terminal for the affected
// nodes unless the caller classifies it transient and retries.
func Driver(cause error, format string, args ...any) error {
	e := newf(CodeDriver, format, args...)
	e.Cause = cause
	return e
}

// Supervisor wraps an in-agent supervisor read failure. Never fatal — the
// OU Agent converts it to a heartbeat's supervisor_error field.
func Supervisor(cause error, format string, args ...any) error {
	e := newf(CodeSupervisor, format, args...)
	e.Cause = cause
	return e
}

// Invalid indicates a malformed or unsupported request.
func Invalid(format string, args ...any) error { return newf(CodeInvalid, format, args...) }

// GetCode extracts the Code from err if it (or something it wraps) is an
// *Error, and reports ok.
func GetCode(err error) (Code, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}

// Transient reports whether an error's code is one the caller should retry
// on the next timer tick rather than promoting the record to a terminal
// state.
func Transient(err error) bool {
	code, ok := GetCode(err)
	if !ok {
		return false
	}
	switch code {
	case CodeBroker, CodeWriteConflict:
		return true
	default:
		return false
	}
}
