// Package errors defines the application error taxonomy for the gateway.
//
// Every failure that crosses a module boundary is classified into one of the
// categories below. The MCP dispatcher maps categories onto JSON-RPC error
// codes; the HTTP surfaces map them onto status codes. Messages are safe to
// surface to clients; the wrapped cause stays in the audit log.
package errors

import (
	"fmt"
)

// Error categories
const (
	// CategoryValidation is returned for malformed arguments or unknown entity
	// types in strict mode.
	CategoryValidation = "validation"

	// CategoryAuth is returned for missing, expired, or invalid credentials.
	CategoryAuth = "auth"

	// CategoryProtocol is returned for transport-level faults such as a
	// missing SSE session or an oversized payload.
	CategoryProtocol = "protocol"

	// CategoryResourceExhausted is returned when the memory circuit breaker is
	// open or a rate limit is exceeded.
	CategoryResourceExhausted = "resource_exhausted"

	// CategoryTimeout is returned when an embedder call or database query
	// exceeds its deadline.
	CategoryTimeout = "timeout"

	// CategoryDatabase is returned for graph read/write failures.
	CategoryDatabase = "database"

	// CategorySchemaViolation is returned when a write would breach the V6
	// schema (V5 properties, protected relationships).
	CategorySchemaViolation = "schema_violation"

	// CategoryInternal is returned for unclassified server errors.
	CategoryInternal = "internal"
)

// Error represents a classified error in the application
type Error struct {
	// Category is the stable error category
	Category string

	// Message is the redacted, client-safe error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new classified error
func New(category, message string, cause error) *Error {
	return &Error{
		Category: category,
		Message:  message,
		Cause:    cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *Error {
	return New(CategoryValidation, message, cause)
}

// NewAuthError creates a new auth error
func NewAuthError(message string, cause error) *Error {
	return New(CategoryAuth, message, cause)
}

// NewProtocolError creates a new protocol error
func NewProtocolError(message string, cause error) *Error {
	return New(CategoryProtocol, message, cause)
}

// NewResourceExhaustedError creates a new resource exhausted error
func NewResourceExhaustedError(message string, cause error) *Error {
	return New(CategoryResourceExhausted, message, cause)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *Error {
	return New(CategoryTimeout, message, cause)
}

// NewDatabaseError creates a new database error
func NewDatabaseError(message string, cause error) *Error {
	return New(CategoryDatabase, message, cause)
}

// NewSchemaViolationError creates a new schema violation error
func NewSchemaViolationError(message string, cause error) *Error {
	return New(CategorySchemaViolation, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return New(CategoryInternal, message, cause)
}

// CategoryOf returns the category of a classified error, or CategoryInternal
// for anything else.
func CategoryOf(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Category
	}
	return CategoryInternal
}

// MessageOf returns the client-safe message of a classified error, or a
// generic message for anything else.
func MessageOf(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Message
	}
	return "internal server error"
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Category == CategoryValidation
}

// IsAuth checks if the error is an auth error
func IsAuth(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Category == CategoryAuth
}

// IsProtocol checks if the error is a protocol error
func IsProtocol(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Category == CategoryProtocol
}

// IsResourceExhausted checks if the error is a resource exhausted error
func IsResourceExhausted(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Category == CategoryResourceExhausted
}

// IsTimeout checks if the error is a timeout error
func IsTimeout(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Category == CategoryTimeout
}

// IsDatabase checks if the error is a database error
func IsDatabase(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Category == CategoryDatabase
}

// IsSchemaViolation checks if the error is a schema violation error
func IsSchemaViolation(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Category == CategorySchemaViolation
}
