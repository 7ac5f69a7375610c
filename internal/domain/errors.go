// Package domain provides the canonical types and error taxonomy for the
// gateway core.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of a gateway error. The categories map
// one-to-one onto the caller-visible failure classes: "retry later"
// (rate_limit), "fix configuration" (no_provider) and "upstream outage"
// (upstream after fallback exhaustion). Everything else is recoverable below
// the autopilot boundary.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeRateLimit indicates admission was denied by the rate limiter.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNoProvider indicates no enabled credential can serve the model.
	ErrorTypeNoProvider ErrorType = "no_provider_available"

	// ErrorTypeUpstream indicates every provider in the fallback chain failed.
	ErrorTypeUpstream ErrorType = "upstream_call_failed"

	// ErrorTypeAuthentication indicates an upstream credential was rejected.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeServer indicates an internal error.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
	ErrorCodeInvalidAPIKey     ErrorCode = "invalid_api_key"
	ErrorCodeModelNotFound     ErrorCode = "model_not_found"
	ErrorCodeAllProvidersDown  ErrorCode = "all_providers_failed"
)

// APIError is the canonical error shape surfaced by the gateway core.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// RetryAfterSeconds is set for rate_limit errors.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeNoProvider:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithRetryAfter sets the retry-after hint in whole seconds, rounding up.
func (e *APIError) WithRetryAfter(seconds int) *APIError {
	e.RetryAfterSeconds = seconds
	return e
}

// ErrNoProvider creates a no-provider-available error.
func ErrNoProvider(message string) *APIError {
	return NewAPIError(ErrorTypeNoProvider, message)
}

// ErrUpstream creates an upstream-call-failed error.
func ErrUpstream(message string) *APIError {
	return NewAPIError(ErrorTypeUpstream, message).WithCode(ErrorCodeAllProvidersDown)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message).WithCode(ErrorCodeInvalidAPIKey)
}

// ErrRateLimit creates an admission-denied error.
func ErrRateLimit(message string) *APIError {
	return NewAPIError(ErrorTypeRateLimit, message).WithCode(ErrorCodeRateLimitExceeded)
}
