package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ResolutionFailure indicates a mandatory logical key had no match at any fingerprint tier
	ResolutionFailure ErrorCode = "RESOLUTION_FAILURE"
	// PatchInstallFailure indicates an intercept could not be installed
	PatchInstallFailure ErrorCode = "PATCH_INSTALL_FAILURE"
	// IntegrationMismatch indicates the running module is not the target integration
	IntegrationMismatch ErrorCode = "INTEGRATION_MISMATCH"
	// TypeNotFound indicates a type could not be located in the loaded snapshot
	TypeNotFound ErrorCode = "TYPE_NOT_FOUND"
	// MethodNotFound indicates a method could not be located on its declaring type
	MethodNotFound ErrorCode = "METHOD_NOT_FOUND"
	// SnapshotInvalid indicates the loaded code could not be parsed
	SnapshotInvalid ErrorCode = "SNAPSHOT_INVALID"
	// StoreUnavailable indicates the persistent table store failed
	StoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents a coded error with message, details and an optional cause
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new coded error
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: X}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// ResolutionDetails identifies the logical key that failed to resolve
type ResolutionDetails struct {
	Key string `json:"key"`
}

// PatchDetails identifies the intercept target that could not be engaged
type PatchDetails struct {
	Target string `json:"target"`
	Patch  string `json:"patch"`
}

// NewResolutionFailure reports a mandatory key that had no match at any tier.
func NewResolutionFailure(key string) *Error {
	return New(ResolutionFailure, fmt.Sprintf("no fingerprint tier matched %s", key), nil).
		WithDetails(ResolutionDetails{Key: key})
}

// NewPatchInstallFailure reports an intercept that could not be installed on target.
func NewPatchInstallFailure(patch, target string, cause error) *Error {
	return New(PatchInstallFailure, fmt.Sprintf("%s patch not installed on %s", patch, target), cause).
		WithDetails(PatchDetails{Target: target, Patch: patch})
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// FailedKey extracts the logical key from a resolution failure.
func FailedKey(err error) (string, bool) {
	var e *Error
	if !stderrors.As(err, &e) || e.Code != ResolutionFailure {
		return "", false
	}
	d, ok := e.Details.(ResolutionDetails)
	if !ok {
		return "", false
	}
	return d.Key, true
}
