// Package errors defines the service error taxonomy shared by all layers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error category.
type Code string

const (
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeValidation         Code = "VALIDATION"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeProfileNotFound    Code = "PROFILE_NOT_FOUND"
	CodeSlotUnavailable    Code = "SLOT_UNAVAILABLE"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL"
)

// ServiceError carries a category, an HTTP status, and optional details.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value detail pair.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Err:        err,
	}
}

// Unauthorized indicates a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// Forbidden indicates an authenticated principal lacking permission.
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "access denied"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// NotFound indicates a resource id with no backing row.
func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetails("id", id)
}

// Conflict indicates a state conflict with an existing resource.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// Validation indicates a malformed or incomplete request.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// InvalidCredentials indicates a failed email/password authentication.
func InvalidCredentials(err error) *ServiceError {
	return newError(CodeInvalidCredentials, http.StatusUnauthorized, "invalid email or password", err)
}

// InvalidToken indicates an unparseable or expired access token.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

// ProfileNotFound indicates an authenticated identity with no profile row.
// Treated as a fatal inconsistency: callers must force a sign-out.
func ProfileNotFound(userID string) *ServiceError {
	return newError(CodeProfileNotFound, http.StatusUnauthorized, "no profile for authenticated user", nil).
		WithDetails("user_id", userID)
}

// SlotUnavailable indicates the requested time slot overlaps an existing booking.
func SlotUnavailable(message string) *ServiceError {
	if message == "" {
		message = "requested time slot is not available"
	}
	return newError(CodeSlotUnavailable, http.StatusConflict, message, nil)
}

// RateLimitExceeded indicates the caller exhausted their request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	if message == "" {
		message = "internal error"
	}
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a *ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// IsNotFound reports whether err is a not-found service error.
func IsNotFound(err error) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == CodeNotFound
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	se := GetServiceError(err)
	if se == nil {
		return false
	}
	switch se.Code {
	case CodeUnauthorized, CodeInvalidCredentials, CodeInvalidToken, CodeProfileNotFound:
		return true
	}
	return false
}

// IsForbidden reports whether err is an authorization failure.
func IsForbidden(err error) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == CodeForbidden
}
