// Package domain defines the core domain models for oplog.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
//
// Codes have the form OPL-<AREA>-<NNNN>. Two DomainErrors compare equal
// under errors.Is when their codes match, so wrapped copies produced by
// WithDetails or Wrap still match the package-level sentinels.
type DomainError struct {
	Code    string // Error code (e.g., "OPL-DOC-4090")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// Wrap returns a copy of the error wrapping the given cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrStorage wraps a failure of the underlying KV engine.
	ErrStorage = NewDomainError("OPL-STOR-5000", "storage failure")

	// ErrCorruptEntry indicates a stored entry could not be decoded or
	// failed authentication.
	ErrCorruptEntry = NewDomainError("OPL-STOR-5001", "corrupt log entry")

	// ErrStoreClosed indicates an operation was attempted after Close.
	ErrStoreClosed = NewDomainError("OPL-STOR-5030", "store closed")
)

// ============================================================================
// Document Errors (DOC)
// ============================================================================

var (
	// ErrInvalidKey indicates an empty or malformed collection or document id.
	ErrInvalidKey = NewDomainError("OPL-DOC-4000", "invalid document key")

	// ErrInvalidSnapshot indicates a snapshot that cannot be committed.
	ErrInvalidSnapshot = NewDomainError("OPL-DOC-4001", "invalid snapshot")

	// ErrLogDiverged indicates the operation and snapshot logs of a document
	// have different heads. Commits are refused until the document is repaired.
	ErrLogDiverged = NewDomainError("OPL-DOC-4090", "operation and snapshot logs diverged")

	// ErrNothingToRepair indicates Repair was called on a consistent document.
	ErrNothingToRepair = NewDomainError("OPL-DOC-4220", "document logs are consistent")
)
