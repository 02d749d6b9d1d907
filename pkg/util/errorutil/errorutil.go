package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared across the intake workflow and its HTTP surface.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeTrackerUnavailable = "TRACKER_UNAVAILABLE"
	CodeTrackerRejected    = "TRACKER_REJECTED"
	CodeStorageFailure     = "STORAGE_FAILURE"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewSessionNotFound(userID string) error {
	return NewDomainError(CodeSessionNotFound, "session not found", http.StatusNotFound,
		map[string]any{"user_id": userID})
}

func NewSessionExpired(userID string) error {
	return NewDomainError(CodeSessionExpired, "session expired", http.StatusNotFound,
		map[string]any{"user_id": userID})
}

func NewRateLimitExceeded(userID string, limit int) error {
	return NewDomainError(CodeRateLimitExceeded, "daily ticket limit reached", http.StatusTooManyRequests,
		map[string]any{"user_id": userID, "limit": limit})
}

func NewTrackerUnavailable(err error) error {
	return &DomainError{
		Code:       CodeTrackerUnavailable,
		Message:    "issue tracker unavailable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewTrackerRejected(message string, err error) error {
	if message == "" {
		message = "issue tracker rejected the request"
	}
	return &DomainError{
		Code:       CodeTrackerRejected,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// NewStorageFailure wraps a persistence error; op names the failing step.
func NewStorageFailure(op string, err error) error {
	return &DomainError{
		Code:       CodeStorageFailure,
		Message:    "storage unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"op": op},
		Err:        err,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}

// WithDetails returns a copy of err's DomainError with details merged in.
// Errors that carry no DomainError are returned unchanged.
func WithDetails(err error, details map[string]any) error {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return err
	}
	merged := make(map[string]any, len(domainErr.Details)+len(details))
	for k, v := range domainErr.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	copied := *domainErr
	copied.Details = merged
	return &copied
}
