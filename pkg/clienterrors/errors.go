// Package clienterrors provides structured error classification for calls to
// the managed agent platform.
package clienterrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/openai/openai-go"
)

// ErrorType represents different categories of platform errors for retry logic.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, per-request timeout).
	ErrorTypeTransient

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication errors (401/403, bad credential).
	// Retrying a bad credential wastes quota and risks lockout.
	ErrorTypeAuth
	// ErrorTypeBadRequest represents malformed request errors (400/404/422, bad endpoint).
	ErrorTypeBadRequest
	// ErrorTypeTimeout represents caller-deadline expiry. The operation is over;
	// the caller's context is dead and retrying under it cannot succeed.
	ErrorTypeTimeout
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown

	// ErrorTypeServiceUnavailable represents persistent unavailability after a
	// retry budget was exhausted. Carries the attempt count and last cause.
	ErrorTypeServiceUnavailable
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// Error represents a classified platform error with retry metadata.
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message (never contains credentials)
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code if applicable
	Attempts   int       // Attempts made before giving up (exhaustion errors only)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("platform error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("platform error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("platform error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error type should be retried.
// Uses blocklist approach: everything is retryable UNLESS explicitly non-retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadRequest, ErrorTypeTimeout, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified platform error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithStatus creates a new classified platform error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewErrorWithCause creates a new classified platform error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}

// NewAuthenticationError creates an auth-class error. Never retried.
func NewAuthenticationError(cause error, message string) *Error {
	return &Error{
		Type:    ErrorTypeAuth,
		Err:     cause,
		Message: message,
	}
}

// NewTimeoutError creates a timeout-class error for caller-deadline expiry.
func NewTimeoutError(cause error, message string) *Error {
	return &Error{
		Type:    ErrorTypeTimeout,
		Err:     cause,
		Message: message,
	}
}

// NewServiceUnavailableError creates a ServiceUnavailable error from a
// transient error after a retry budget has been exhausted. The attempt count
// and last cause travel with the error for diagnosis.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:     ErrorTypeServiceUnavailable,
		Err:      cause,
		Attempts: attempts,
		Message:  fmt.Sprintf("service unavailable after %d attempts", attempts),
	}
}

// IsAuth checks if the error is an authentication failure.
func IsAuth(err error) bool {
	return Is(err, ErrorTypeAuth)
}

// IsServiceUnavailable checks if the error indicates persistent unavailability.
func IsServiceUnavailable(err error) bool {
	return Is(err, ErrorTypeServiceUnavailable)
}

// ClassifyStatus maps an HTTP status code to an error type.
func ClassifyStatus(statusCode int) ErrorType {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorTypeAuth
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return ErrorTypeBadRequest
	case http.StatusRequestTimeout:
		return ErrorTypeTransient
	}
	if statusCode >= 500 && statusCode <= 599 {
		return ErrorTypeTransient
	}
	return ErrorTypeUnknown
}

// Classify maps SDK and transport errors into the taxonomy. Already-classified
// errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}

	// Context errors: the caller's deadline is authoritative.
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(err, "deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return NewTimeoutError(err, "operation canceled")
	}

	// OpenAI SDK errors carry the HTTP status directly.
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{
			Type:       ClassifyStatus(apiErr.StatusCode),
			Err:        err,
			StatusCode: apiErr.StatusCode,
			Message:    statusMessage(apiErr.StatusCode),
		}
	}

	// Azure SDK pipeline errors (credential probes, ARM calls).
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return &Error{
			Type:       ClassifyStatus(respErr.StatusCode),
			Err:        err,
			StatusCode: respErr.StatusCode,
			Message:    statusMessage(respErr.StatusCode),
		}
	}

	// Fall back to message patterns for transport-level failures.
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "reset") {
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	}

	if strings.Contains(errStr, "rate") || strings.Contains(errStr, "quota") || strings.Contains(errStr, "429") {
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "credential") {
		return NewAuthenticationError(err, "authentication error")
	}

	return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
}

func statusMessage(statusCode int) string {
	switch ClassifyStatus(statusCode) {
	case ErrorTypeAuth:
		return "authentication failed - check credential and role assignments"
	case ErrorTypeRateLimit:
		return "rate limit exceeded"
	case ErrorTypeBadRequest:
		return "bad request - check endpoint, deployment name and api version"
	case ErrorTypeTransient:
		return "server error"
	default:
		return fmt.Sprintf("unexpected status %d", statusCode)
	}
}
