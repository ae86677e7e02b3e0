package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode is the integer errorCode carried in Luna error replies.
type ErrorCode int

const (
	ErrCodeRateLimited        ErrorCode = -2
	ErrCodeUnauthorized       ErrorCode = -1
	ErrCodeInvalidParameters  ErrorCode = 2
	ErrCodeVolumeOutOfRange   ErrorCode = 3
	ErrCodeInternal           ErrorCode = 16
	ErrCodeBackendUnavailable ErrorCode = 17
	ErrCodeUnknownStream      ErrorCode = 19
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%d: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Reply renders the error as a Luna reply body.
func (e *AppError) Reply() map[string]interface{} {
	return map[string]interface{}{
		"returnValue": false,
		"errorCode":   int(e.Code),
		"errorText":   e.Message,
	}
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidParametersError(message string) *AppError {
	return NewAppError(ErrCodeInvalidParameters, message, http.StatusBadRequest)
}

func NewUnknownStreamError(stream string) *AppError {
	return NewAppError(ErrCodeUnknownStream, fmt.Sprintf("Audio stream type '%s' is not supported", stream), http.StatusNotFound)
}

func NewVolumeOutOfRangeError(message string) *AppError {
	return NewAppError(ErrCodeVolumeOutOfRange, message, http.StatusUnprocessableEntity)
}

func NewBackendUnavailableError(err error) *AppError {
	return WrapError(err, ErrCodeBackendUnavailable, "Mixer call failed", http.StatusBadGateway)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}
