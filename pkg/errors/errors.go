package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// Error codes used across the messaging core. Handlers map these to HTTP
// status codes via the AppError they ride on.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeAuth                 = "AUTH_ERROR"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeConfiguration        = "CONFIGURATION_ERROR"
	CodeOutsideSessionWindow = "OUTSIDE_SESSION_WINDOW"
	CodeNotFound             = "NOT_FOUND"
	CodeInfrastructure       = "INFRASTRUCTURE_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// NewValidationError creates a 400 error for malformed or missing request fields
func NewValidationError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeValidation, message)
}

// NewAuthError creates a 401 error for bad or missing tokens
func NewAuthError(message string) *AppError {
	return NewError(http.StatusUnauthorized, CodeAuth, message)
}

// NewRateLimitError creates a 429 error for an exceeded send quota
func NewRateLimitError(message string) *AppError {
	return NewError(http.StatusTooManyRequests, CodeRateLimitExceeded, message)
}

// NewConfigurationError creates a 400 error for missing tenant credentials
// or bindings. This is a client-visible domain error, not a server fault.
func NewConfigurationError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeConfiguration, message)
}

// NewSessionWindowError creates a 400 error for a WhatsApp send attempted
// outside the 24-hour session window
func NewSessionWindowError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeOutsideSessionWindow, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(message string) *AppError {
	return NewError(http.StatusNotFound, CodeNotFound, message)
}

// NewInfrastructureError creates a 500 error for queue/db/provider transport failures
func NewInfrastructureError(message string) *AppError {
	return NewError(http.StatusInternalServerError, CodeInfrastructure, message)
}

// FromError converts a standard error to an AppError.
// If the error is already an AppError, it is returned as-is.
// Otherwise it is wrapped as an infrastructure error.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	return NewInfrastructureError(fmt.Sprintf("An unexpected error occurred: %s", err.Error()))
}

// Is checks if the target error carries the given code
func Is(err error, code string) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Code == code
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether the error should be surfaced to the caller
// as a 4xx rather than dead-lettered.
func IsClientError(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode >= 400 && appErr.StatusCode < 500
	}
	return false
}
