// Package errors provides structured error types for lockstep.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI and the release library
//   - Machine-readable error codes for programmatic handling
//   - Process exit codes derived from the failure category
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Codes map onto the release failure taxonomy:
//   - VALIDATION: bad bump keyword, restricted branch, missing argument
//   - CYCLE: unresolved dependency cycle while cycles are rejected
//   - VCS_STATE: uncommitted changes, local behind upstream, missing git head
//   - REGISTRY: registry failures surfaced after local cleanup ran
//   - LIFECYCLE_SCRIPT: a lifecycle script exited non-zero
//
// # Usage
//
//	err := errors.New(errors.ErrCodeValidation, "invalid bump %q", keyword)
//	if errors.Is(err, errors.ErrCodeValidation) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeRegistry, origErr, "publish %s", name)
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/go-errors/errors"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeValidation      Code = "VALIDATION"
	ErrCodeInvalidManifest Code = "INVALID_MANIFEST"
	ErrCodeInvalidConfig   Code = "INVALID_CONFIG"
	ErrCodeInvalidPath     Code = "INVALID_PATH"

	// Graph errors
	ErrCodeCycle            Code = "CYCLE"
	ErrCodeWorkspace        Code = "WORKSPACE"
	ErrCodeDuplicatePackage Code = "DUPLICATE_PACKAGE"

	// Collaborator errors
	ErrCodeVCSState        Code = "VCS_STATE"
	ErrCodeRegistry        Code = "REGISTRY"
	ErrCodeLifecycleScript Code = "LIFECYCLE_SCRIPT"
	ErrCodeOTPRequired     Code = "OTP_REQUIRED"

	// Resource errors
	ErrCodeNotFound Code = "NOT_FOUND"
	ErrCodeNetwork  Code = "NETWORK_ERROR"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an error carrying a matching code.
func Is(err error, code Code) bool {
	return GetCode(err) == code
}

// As is [errors.As], re-exported so callers need a single errors import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// coder is implemented by typed errors that carry a code without embedding *Error.
type coder interface {
	ErrorCode() Code
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if no error in the chain carries a code.
func GetCode(err error) Code {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Code
		case coder:
			return e.ErrorCode()
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s", e.Message, UserMessage(e.Cause))
		}
		return e.Message
	}
	return err.Error()
}

// CycleError is returned when dependency cycles are found and cycles are rejected.
// Paths holds every offending cycle path as an ordered list of package names.
type CycleError struct {
	Paths [][]string
}

func (e *CycleError) Error() string {
	lines := make([]string, 0, len(e.Paths)+1)
	lines = append(lines, "Dependency cycles detected, you should fix these!")
	for _, p := range e.Paths {
		lines = append(lines, strings.Join(p, " -> "))
	}
	return strings.Join(lines, "\n")
}

// ErrorCode returns [ErrCodeCycle].
func (e *CycleError) ErrorCode() Code { return ErrCodeCycle }

// DuplicatePackageError is returned when two manifests declare the same package name.
type DuplicatePackageError struct {
	Name      string
	Locations []string
}

func (e *DuplicatePackageError) Error() string {
	return fmt.Sprintf("package name %q used in multiple packages:\n\t%s",
		e.Name, strings.Join(e.Locations, "\n\t"))
}

// ErrorCode returns [ErrCodeDuplicatePackage].
func (e *DuplicatePackageError) ErrorCode() Code { return ErrCodeDuplicatePackage }

// LifecycleScriptError reports a lifecycle script that exited with a non-zero code.
// The script's exit code becomes the process exit code.
type LifecycleScriptError struct {
	Package  string
	Script   string
	ExitCode int
	Cause    error
}

func (e *LifecycleScriptError) Error() string {
	return fmt.Sprintf("%s: lifecycle script %q exited with code %d", e.Package, e.Script, e.ExitCode)
}

func (e *LifecycleScriptError) Unwrap() error { return e.Cause }

// ErrorCode returns [ErrCodeLifecycleScript].
func (e *LifecycleScriptError) ErrorCode() Code { return ErrCodeLifecycleScript }

// OTPChallengeError is returned by a registry that wants a one-time password
// before it accepts the request.
type OTPChallengeError struct {
	Message string
}

func (e *OTPChallengeError) Error() string {
	if e.Message == "" {
		return "this operation requires a one-time password"
	}
	return e.Message
}

// ErrorCode returns [ErrCodeOTPRequired].
func (e *OTPChallengeError) ErrorCode() Code { return ErrCodeOTPRequired }

// IsOTPChallenge reports whether err is, or wraps, an [OTPChallengeError].
func IsOTPChallenge(err error) bool {
	var oe *OTPChallengeError
	return errors.As(err, &oe)
}

// ExitCode maps an error to a process exit code.
// Lifecycle script failures propagate the script's own exit code and
// cancellations use the shell convention for SIGINT.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var lse *LifecycleScriptError
	if errors.As(err, &lse) && lse.ExitCode > 0 {
		return lse.ExitCode
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

// WithStack wraps err with a stack trace for unexpected internal failures.
// Nil stays nil; errors that already carry a stack are returned unchanged.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var ge *goerrors.Error
	if errors.As(err, &ge) {
		return err
	}
	return goerrors.Wrap(err, 1)
}

// Stack returns the recorded stack trace of err, or "" when none was captured.
func Stack(err error) string {
	var ge *goerrors.Error
	if errors.As(err, &ge) {
		return ge.ErrorStack()
	}
	return ""
}
