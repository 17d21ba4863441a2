// Package errors provides the error taxonomy shared by every layer of the
// framework: handlers, guards, extractors and startup wiring all report
// failures through AppError so they can be rendered with a single envelope.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// ERROR TYPES AND CLASSIFICATION
// ============================================================================

// ErrorType defines the category of error for proper handling and response.
type ErrorType string

const (
	// Client errors
	ErrorTypeBadRequest   ErrorType = "BAD_REQUEST"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeRateLimit    ErrorType = "RATE_LIMIT"
	ErrorTypeTimeout      ErrorType = "TIMEOUT"

	// Server errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
)

// ErrorSeverity drives the log level used when the error is written out.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// ============================================================================
// APPLICATION ERROR
// ============================================================================

// AppError is the single error type rendered by the HTTP layer.
type AppError struct {
	Type       ErrorType     `json:"type"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Details    string        `json:"details,omitempty"`
	Operation  string        `json:"operation,omitempty"`
	Severity   ErrorSeverity `json:"severity"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// String provides a detailed representation for logging.
func (e *AppError) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Error: %s\n", e.Error()))
	if e.Operation != "" {
		b.WriteString(fmt.Sprintf("Operation: %s\n", e.Operation))
	}
	b.WriteString(fmt.Sprintf("Severity: %s\n", e.Severity))
	if e.RetryAfter > 0 {
		b.WriteString(fmt.Sprintf("RetryAfter: %s\n", e.RetryAfter))
	}
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("Cause: %v\n", e.Cause))
	}
	return b.String()
}

// ============================================================================
// ERROR BUILDER
// ============================================================================

// ErrorBuilder provides a fluent interface for constructing AppError values.
type ErrorBuilder struct {
	err *AppError
}

// New creates a new error builder with the specified type, code and message.
func New(errType ErrorType, code, message string) *ErrorBuilder {
	return &ErrorBuilder{
		err: &AppError{
			Type:     errType,
			Code:     code,
			Message:  message,
			Severity: defaultSeverity(errType),
		},
	}
}

// WithDetails adds additional details to the error.
func (b *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	b.err.Details = details
	return b
}

// WithOperation specifies the operation that failed.
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

// WithSeverity overrides the default severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.err.Severity = severity
	return b
}

// WithRetryAfter sets how long a client should wait before retrying.
func (b *ErrorBuilder) WithRetryAfter(d time.Duration) *ErrorBuilder {
	b.err.RetryAfter = d
	return b
}

// WithCause sets the underlying cause.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

// Build returns the constructed error.
func (b *ErrorBuilder) Build() *AppError {
	return b.err
}

func defaultSeverity(t ErrorType) ErrorSeverity {
	switch t {
	case ErrorTypeInternal:
		return SeverityHigh
	case ErrorTypeUnavailable, ErrorTypeTimeout:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ============================================================================
// CONVENIENCE CONSTRUCTORS
// ============================================================================

// BadRequest creates a builder for malformed input or validation failures.
func BadRequest(code, message string) *ErrorBuilder {
	return New(ErrorTypeBadRequest, code, message)
}

// Unauthorized creates a builder for missing or invalid credentials.
func Unauthorized(code, message string) *ErrorBuilder {
	return New(ErrorTypeUnauthorized, code, message)
}

// Forbidden creates a builder for guard denials.
func Forbidden(code, message string) *ErrorBuilder {
	return New(ErrorTypeForbidden, code, message)
}

// NotFound creates a builder for absent resources.
func NotFound(code, message string) *ErrorBuilder {
	return New(ErrorTypeNotFound, code, message)
}

// Conflict creates a builder for uniqueness or state machine violations.
func Conflict(code, message string) *ErrorBuilder {
	return New(ErrorTypeConflict, code, message)
}

// TooManyRequests creates a builder for rate-limit denials.
func TooManyRequests(code, message string, retryAfter time.Duration) *ErrorBuilder {
	return New(ErrorTypeRateLimit, code, message).WithRetryAfter(retryAfter)
}

// Timeout creates a builder for requests that exceeded their deadline.
func Timeout(code, message string) *ErrorBuilder {
	return New(ErrorTypeTimeout, code, message)
}

// Internal creates a builder for unexpected failures.
func Internal(code, message string) *ErrorBuilder {
	return New(ErrorTypeInternal, code, message)
}

// Unavailable creates a builder for readiness or dependency outages.
func Unavailable(code, message string) *ErrorBuilder {
	return New(ErrorTypeUnavailable, code, message)
}

// ============================================================================
// PREDICATES
// ============================================================================

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err carries the given error type.
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errType
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool { return IsType(err, ErrorTypeUnauthorized) }

// IsForbidden reports whether err is an authorization failure.
func IsForbidden(err error) bool { return IsType(err, ErrorTypeForbidden) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return IsType(err, ErrorTypeNotFound) }

// IsRateLimited reports whether err is a rate-limit denial.
func IsRateLimited(err error) bool { return IsType(err, ErrorTypeRateLimit) }

// Wrap attaches context to an error, preserving an AppError's classification.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		wrapped := *appErr
		wrapped.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		wrapped.Cause = err
		return &wrapped
	}
	return Internal("WRAPPED_ERROR", message).WithCause(err).Build()
}
