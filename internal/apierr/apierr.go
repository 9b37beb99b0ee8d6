// Package apierr provides the control plane's unified error taxonomy,
// mapped onto spec kinds: validation, authentication, authorization,
// not-found, conflict, backend-unavailable and internal.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, documented error identifier.
type ErrorCode string

const (
	// Validation (3xxx) — 400/422
	CodeInvalidInput     ErrorCode = "VAL_3001"
	CodeMissingParameter ErrorCode = "VAL_3002"
	CodeInvalidFormat    ErrorCode = "VAL_3003"
	CodeOutOfRange       ErrorCode = "VAL_3004"

	// Authentication (1xxx) — 401
	CodeUnauthorized ErrorCode = "AUTH_1001"
	CodeInvalidToken ErrorCode = "AUTH_1002"
	CodeTokenExpired ErrorCode = "AUTH_1003"

	// Authorization (2xxx) — 403
	CodeForbidden ErrorCode = "AUTHZ_2001"

	// Not found (4xxx) — 404
	CodeNotFound ErrorCode = "RES_4001"

	// Conflict (4xxx, 409 subrange)
	CodeAlreadyExists ErrorCode = "RES_4002"
	CodeConflict      ErrorCode = "RES_4003"

	// Backend unavailable (5xxx, 503 subrange)
	CodeBackendUnavailable ErrorCode = "SVC_5001"
	CodeRateLimitExceeded  ErrorCode = "SVC_5002"

	// Internal (5xxx) — 500
	CodeInternal      ErrorCode = "SVC_5003"
	CodeDatabaseError ErrorCode = "SVC_5004"
)

// ServiceError is a structured error carrying an HTTP status and optional
// machine-readable details, matching spec §6's error envelope.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a detail key/value and returns the same error for
// chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Validation

func InvalidInput(field, reason string) *ServiceError {
	return New(CodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(CodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(CodeInvalidFormat, "invalid format", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("expected", expected)
}

func OutOfRange(field string, min, max interface{}) *ServiceError {
	return New(CodeOutOfRange, "value out of range", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("min", min).WithDetails("max", max)
}

func UnprocessableEntity(message string) *ServiceError {
	return New(CodeInvalidInput, message, http.StatusUnprocessableEntity)
}

// Authentication

func Unauthorized(message string) *ServiceError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(CodeInvalidToken, "invalid authentication token", http.StatusUnauthorized, err)
}

func TokenExpired() *ServiceError {
	return New(CodeTokenExpired, "authentication token has expired", http.StatusUnauthorized)
}

// Authorization

func Forbidden(message string) *ServiceError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

// Not found / Conflict

func NotFound(resource, id string) *ServiceError {
	return New(CodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(CodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(CodeConflict, message, http.StatusConflict)
}

// Backend unavailable

func BackendUnavailable(service, suggestion string) *ServiceError {
	return New(CodeBackendUnavailable, fmt.Sprintf("%s is unavailable", service), http.StatusServiceUnavailable).
		WithDetails("service", service).WithDetails("suggestion", suggestion)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).WithDetails("window", window)
}

// Internal

func Internal(message string, err error) *ServiceError {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(CodeDatabaseError, "database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// Helpers

func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

func GetHTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
