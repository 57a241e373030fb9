// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import "errors"

// ErrorType represents the semantic category of an error
type ErrorType int

const (
	ErrorTypeValidation       ErrorType = iota // Input validation errors (400 Bad Request)
	ErrorTypeNotFound                          // Resource not found errors (404 Not Found)
	ErrorTypeConflict                          // State compare-and-swap mismatch (409 Conflict)
	ErrorTypeInternal                          // Persistence and other internal errors (500 Internal Server Error)
	ErrorTypeUnavailable                       // Upstream unavailable or breaker open (503 Service Unavailable)
	ErrorTypeAccessDenied                      // Caller is not linked to the resource (403 Forbidden)
	ErrorTypeUpstreamAuth                      // Upstream rejected the system credential (502 Bad Gateway)
	ErrorTypeSignatureInvalid                  // Webhook signature mismatch (401 Unauthorized)
	ErrorTypeUnauthenticated                   // Missing or unknown tenant credential (401 Unauthorized)
)

// String returns a stable, machine readable name for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeConflict:
		return "state_conflict"
	case ErrorTypeUnavailable:
		return "upstream_unavailable"
	case ErrorTypeAccessDenied:
		return "access_denied"
	case ErrorTypeUpstreamAuth:
		return "upstream_auth_error"
	case ErrorTypeSignatureInvalid:
		return "webhook_signature_invalid"
	case ErrorTypeUnauthenticated:
		return "unauthenticated"
	default:
		return "internal"
	}
}

// Retryable reports whether a caller may retry an operation that failed with this type.
func (t ErrorType) Retryable() bool {
	return t == ErrorTypeConflict || t == ErrorTypeUnavailable
}

// Sentinel errors wrapped by the typed constructors below.
var (
	ErrMeetingNotFound         = errors.New("meeting not found")
	ErrMeetingActive           = errors.New("meeting identity already has an active session")
	ErrAccessDenied            = errors.New("access denied")
	ErrStateConflict           = errors.New("meeting state conflict")
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrRevisionMismatch        = errors.New("revision mismatch")
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
	ErrUpstreamAuth            = errors.New("upstream rejected system credential")
	ErrWebhookSignatureInvalid = errors.New("webhook signature invalid")
	ErrUnauthenticated         = errors.New("tenant credential missing or invalid")
	ErrInternal                = errors.New("internal error")
	ErrUnmarshal               = errors.New("unmarshal error")
	ErrValidationFailed        = errors.New("validation failed")
)

// DomainError represents an error with semantic type information
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error // underlying error for wrapping
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// GetErrorType returns the semantic type of an error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ErrorTypeInternal // default fallback
}

// Error constructors for different types
func NewValidationError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeValidation, Message: message, Err: errors.Join(err...)}
}

func NewNotFoundError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeNotFound, Message: message, Err: errors.Join(err...)}
}

func NewConflictError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeConflict, Message: message, Err: errors.Join(err...)}
}

func NewInternalError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeInternal, Message: message, Err: errors.Join(err...)}
}

func NewUnavailableError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeUnavailable, Message: message, Err: errors.Join(err...)}
}

func NewAccessDeniedError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeAccessDenied, Message: message, Err: errors.Join(err...)}
}

func NewUpstreamAuthError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeUpstreamAuth, Message: message, Err: errors.Join(err...)}
}

func NewSignatureInvalidError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeSignatureInvalid, Message: message, Err: errors.Join(err...)}
}

func NewUnauthenticatedError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeUnauthenticated, Message: message, Err: errors.Join(err...)}
}
