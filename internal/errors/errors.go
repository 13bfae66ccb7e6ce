// Package errors provides typed errors for the portfolio aggregator.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common error cases.
var (
	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized indicates the caller is not authenticated.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation indicates a validation error.
	ErrValidation = errors.New("validation error")

	// ErrInternal indicates an internal server error.
	ErrInternal = errors.New("internal error")

	// ErrRateLimit indicates too many requests.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrSigning indicates a request token could not be minted.
	// Fatal for the fetch cycle that hit it.
	ErrSigning = errors.New("signing error")

	// ErrAuthExchange indicates an OAuth code exchange, refresh or
	// protected call was rejected. The session must be re-authorized.
	ErrAuthExchange = errors.New("auth exchange error")

	// ErrNetwork indicates a transport failure or unexpected upstream status.
	ErrNetwork = errors.New("network error")

	// ErrSchema indicates an upstream payload did not have the expected shape.
	ErrSchema = errors.New("schema error")
)

// AppError is a structured application error.
type AppError struct {
	// Type is the error type (sentinel error).
	Type error
	// Message is the user-facing error message.
	Message string
	// Details contains additional error details.
	Details map[string]any
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the error type and the cause so both match errors.Is.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Type, e.Cause}
	}
	return []error{e.Type}
}

// Is checks if this error matches the target.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Type, target)
}

// New creates a new AppError.
func New(errType error, message string) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(errType error, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// WithDetails adds details to an AppError.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Type:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return &AppError{
		Type:    ErrValidation,
		Message: message,
	}
}

// Internal creates an internal error.
func Internal(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// Signing creates a signing error for a provider.
func Signing(provider string, cause error) *AppError {
	return Wrap(ErrSigning, "signing request", cause).
		WithDetails(map[string]any{"provider": provider})
}

// AuthExchange creates an auth error for a provider endpoint.
// A status of 0 means no response was received.
func AuthExchange(provider, endpoint string, status int, cause error) *AppError {
	return Wrap(ErrAuthExchange, fmt.Sprintf("%s auth failed", provider), cause).
		WithDetails(upstreamDetails(provider, endpoint, status))
}

// Network creates a network error for a provider endpoint.
func Network(provider, endpoint string, status int, cause error) *AppError {
	return Wrap(ErrNetwork, fmt.Sprintf("%s request failed", provider), cause).
		WithDetails(upstreamDetails(provider, endpoint, status))
}

// Schema creates a schema error for a provider payload.
func Schema(provider, message string) *AppError {
	return New(ErrSchema, message).
		WithDetails(map[string]any{"provider": provider})
}

func upstreamDetails(provider, endpoint string, status int) map[string]any {
	d := map[string]any{"provider": provider, "endpoint": endpoint}
	if status != 0 {
		d["status"] = status
	}
	return d
}

// Details returns the details of the first AppError in the chain, or nil.
func Details(err error) map[string]any {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsSigning checks if an error is a signing error.
func IsSigning(err error) bool {
	return errors.Is(err, ErrSigning)
}

// IsAuthExchange checks if an error is an auth exchange error.
func IsAuthExchange(err error) bool {
	return errors.Is(err, ErrAuthExchange)
}

// IsNetwork checks if an error is a network error.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsSchema checks if an error is a schema error.
func IsSchema(err error) bool {
	return errors.Is(err, ErrSchema)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrAuthExchange):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrSchema):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
