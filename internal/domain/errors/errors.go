package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies application errors by how the caller should
// react to them.
type ErrorType string

const (
	// ErrorTypeRejection covers bid attempts turned away for a reason
	// the bidder can act on. Surfaced to the caller, never retried,
	// never logged as an error.
	ErrorTypeRejection ErrorType = "rejection"
	// ErrorTypeValidation covers malformed input (unparseable amounts,
	// bad request shapes).
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound covers lookups of records that do not exist.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict covers invariant violations (a second OPEN
	// auction, a monitor already registered).
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeStorage covers failures that escaped the failover
	// controller, i.e. both backends failed the operation.
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeInternal is everything else.
	ErrorTypeInternal ErrorType = "internal"
)

// Rejection codes for bid attempts.
const (
	CodeCooldown          = "COOLDOWN"
	CodeNotActive         = "NOT_ACTIVE"
	CodeForbidden         = "FORBIDDEN"
	CodeAlreadyHighest    = "ALREADY_HIGHEST"
	CodeIncrementTooSmall = "INCREMENT_TOO_SMALL"
	CodeOutOfRange        = "OUT_OF_RANGE"
	CodeParseError        = "PARSE_ERROR"
)

// AppError is a structured application error.
type AppError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// NewRejection constructs a bid-rejection error with one of the
// rejection codes above.
func NewRejection(code, message string) *AppError {
	return &AppError{Type: ErrorTypeRejection, Code: code, Message: message}
}

func NewValidationError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Code: code, Message: message}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{Type: ErrorTypeConflict, Code: "CONFLICT", Message: message}
}

func NewStorageError(message string) *AppError {
	return &AppError{Type: ErrorTypeStorage, Code: "STORAGE_FAILURE", Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{Type: ErrorTypeInternal, Code: "INTERNAL_ERROR", Message: message}
}

// IsRejection reports whether err (anywhere in its chain) is a bid
// rejection, and returns it if so.
func IsRejection(err error) (*AppError, bool) {
	var app *AppError
	if errors.As(err, &app) && app.Type == ErrorTypeRejection {
		return app, true
	}
	return nil, false
}

// IsType reports whether err carries the given error type.
func IsType(err error, t ErrorType) bool {
	var app *AppError
	return errors.As(err, &app) && app.Type == t
}
