package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Syllabus error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrFileNotFound       ErrorCode = "FILE_NOT_FOUND"      // 404
	ErrConflict           ErrorCode = "CONFLICT"            // 409
	ErrSourceRead         ErrorCode = "SOURCE_READ"         // 422
	ErrVerificationFailed ErrorCode = "VERIFICATION_FAILED" // 422
	ErrCancelled          ErrorCode = "CANCELLED"           // 499
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// SyllabusError represents a structured error with code, status, and details.
type SyllabusError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *SyllabusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SyllabusError {
	return &SyllabusError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record (source, artifact, exam or plan).
func NewNotFound(kind, identifier string) *SyllabusError {
	return &SyllabusError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing file on disk.
func NewFileNotFound(path string) *SyllabusError {
	return &SyllabusError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error, e.g. a processing result for an outdated fingerprint.
func NewConflict(msg string) *SyllabusError {
	return &SyllabusError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewSourceRead creates a 422 error for an unreadable or corrupt source file.
// Scans record it on the SourceRecord instead of returning it.
func NewSourceRead(path string, err error) *SyllabusError {
	msg := "unreadable source"
	if err != nil {
		msg = err.Error()
	}
	return &SyllabusError{
		Code:    ErrSourceRead,
		Status:  422,
		Message: fmt.Sprintf("cannot read %s: %s", path, msg),
		Details: map[string]any{"path": path},
	}
}

// NewVerificationFailed creates a 422 error when a schedule still violates hard
// constraints after every retry attempt.
func NewVerificationFailed(violations any, attempts int) *SyllabusError {
	return &SyllabusError{
		Code:    ErrVerificationFailed,
		Status:  422,
		Message: fmt.Sprintf("schedule failed verification after %d attempts", attempts),
		Details: map[string]any{"violations": violations, "attempts": attempts},
	}
}

// NewCancelled creates a 499 error for an operation stopped by its context.
func NewCancelled(operation string) *SyllabusError {
	return &SyllabusError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *SyllabusError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &SyllabusError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error (or anything it wraps) is a SyllabusError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SyllabusError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As returns the SyllabusError inside err, if any.
func As(err error) (*SyllabusError, bool) {
	var sErr *SyllabusError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}
