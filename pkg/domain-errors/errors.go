// Package domainerrors defines the coded error values that cross the engine
// boundary. Every rejection carries a Code, a human-readable Message and an
// optional Context map; transport layers translate codes, never messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error condition. Attendance codes are upper-case and are
// surfaced verbatim to clients; request-level codes are lower-case.
type Code string

const (
	// Validation: expected, user-facing, never retried automatically.
	CodeOutsideHours Code = "OUTSIDE_HOURS"
	CodeOutsideSlot  Code = "OUTSIDE_SLOT"
	CodeNoRotation   Code = "NO_ROTATION"
	CodeGeofenceFail Code = "GEOFENCE_FAIL"

	// State conflict: client retried, double-submitted or is out of sync.
	CodeDuplicateOpen Code = "DUPLICATE_OPEN"
	CodeNoOpenRecord  Code = "NO_OPEN_RECORD"
	CodeInvalidState  Code = "INVALID_STATE"

	// Business limit: policy violations with no override path.
	CodeOvernightNotAllowed Code = "OVERNIGHT_NOT_ALLOWED"
	CodeShiftTooLong        Code = "SHIFT_TOO_LONG"
	CodeInvalidTimeOrder    Code = "INVALID_TIME_ORDER"

	// Request-level and system codes.
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeRateLimited        Code = "rate_limited"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal_error"
)

// Category groups codes by how a caller is expected to react.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryStateConflict Category = "state_conflict"
	CategoryBusinessLimit Category = "business_limit"
	CategoryRequest       Category = "request"
	CategorySystem        Category = "system"
)

var categories = map[Code]Category{
	CodeOutsideHours:        CategoryValidation,
	CodeOutsideSlot:         CategoryValidation,
	CodeNoRotation:          CategoryValidation,
	CodeGeofenceFail:        CategoryValidation,
	CodeDuplicateOpen:       CategoryStateConflict,
	CodeNoOpenRecord:        CategoryStateConflict,
	CodeInvalidState:        CategoryStateConflict,
	CodeOvernightNotAllowed: CategoryBusinessLimit,
	CodeShiftTooLong:        CategoryBusinessLimit,
	CodeInvalidTimeOrder:    CategoryBusinessLimit,
	CodeBadRequest:          CategoryRequest,
	CodeValidation:          CategoryRequest,
	CodeNotFound:            CategoryRequest,
	CodeConflict:            CategoryRequest,
	CodeUnauthorized:        CategoryRequest,
	CodeForbidden:           CategoryRequest,
	CodeRateLimited:         CategoryRequest,
	CodeInvariantViolation:  CategoryRequest,
	CodeTimeout:             CategorySystem,
	CodeUnavailable:         CategorySystem,
	CodeInternal:            CategorySystem,
}

// Category returns the category for the code. Unknown codes are system errors.
func (c Code) Category() Category {
	if cat, ok := categories[c]; ok {
		return cat
	}
	return CategorySystem
}

// Retryable reports whether a caller may retry with backoff. Only system
// failures qualify; retrying anything else would mask a double submission.
func (c Code) Retryable() bool {
	return c.Category() == CategorySystem && c != CodeInternal
}

// Error is the structured error returned across the engine boundary.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// With attaches a context value and returns the same error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates err with a code and message, keeping it for errors.Is/As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// As extracts the outermost *Error from err.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias for HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}
