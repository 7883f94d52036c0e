package apperror

import (
	"errors"
	"net/http"
	"time"
)

type Error struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error
	// RetryAfter is advertised to the client via the Retry-After header when non-zero.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

var (
	ErrNotFound = &Error{
		Code:       "not_found",
		Message:    "The requested resource was not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &Error{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrMissingFile = &Error{
		Code:       "missing_file",
		Message:    "No file part in the request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInvalidFileType = &Error{
		Code:       "invalid_file_type",
		Message:    "This file type is not supported",
		StatusCode: http.StatusBadRequest,
	}

	ErrFileTooLarge = &Error{
		Code:       "file_too_large",
		Message:    "The uploaded file exceeds the maximum allowed size",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrRangeNotSatisfiable = &Error{
		Code:       "range_not_satisfiable",
		Message:    "Requested range not satisfiable",
		StatusCode: http.StatusRequestedRangeNotSatisfiable,
	}

	ErrJobNotFound = &Error{
		Code:       "job_not_found",
		Message:    "No job exists for this key",
		StatusCode: http.StatusNotFound,
	}

	ErrResultNotReady = &Error{
		Code:       "result_not_ready",
		Message:    "The processed file is not available yet",
		StatusCode: http.StatusNotFound,
	}

	ErrStorage = &Error{
		Code:       "storage_error",
		Message:    "Could not reach object storage",
		StatusCode: http.StatusInternalServerError,
	}

	ErrQueueFull = &Error{
		Code:       "queue_full",
		Message:    "The processing queue is full. Please try again later",
		StatusCode: http.StatusServiceUnavailable,
		RetryAfter: 5 * time.Second,
	}

	ErrInternal = &Error{
		Code:       "internal_error",
		Message:    "An unexpected error occurred. Please try again later",
		StatusCode: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &Error{
		Code:       "service_unavailable",
		Message:    "Service temporarily unavailable. Please try again later",
		StatusCode: http.StatusServiceUnavailable,
	}
)

func New(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		RetryAfter: appErr.RetryAfter,
		Internal:   err,
	}
}

func WrapWithMessage(err error, code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func SafeMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}
