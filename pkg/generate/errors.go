package generate

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when API key is required but missing.
	ErrNoAPIKey = errors.New("generate: API key required")

	// ErrNoModel is returned when model is required but missing.
	ErrNoModel = errors.New("generate: model required")

	// ErrEmptyResponse is returned when the backend produced no text.
	ErrEmptyResponse = errors.New("generate: empty response")

	// ErrUnavailable is returned when no generator is configured.
	ErrUnavailable = errors.New("generate: generator unavailable")
)

// APIError represents an error response from a generation API.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the API.
	Message string

	// Status is the API status string (if provided).
	Status string

	// Backend identifies which generator returned the error.
	Backend string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("generate [%s]: API error %d (%s): %s",
			e.Backend, e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("generate [%s]: API error %d: %s",
		e.Backend, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request could succeed on another backend.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// BackendError wraps an error with backend context.
type BackendError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("generate [%s]: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with backend context.
func WrapError(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Err: err}
}

// ChainError aggregates errors from every generator in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "generate chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("generate chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("generate chain: all %d generators failed, last error: %v",
		len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}
