package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrImportInProgress  = errors.New("another import is already running")
	ErrInvalidTransition = errors.New("invalid import job status transition")
)

// Kind classifies failures crossing the upstream, storage and HTTP boundaries.
// The string value is the error code returned to API clients.
type Kind string

const (
	KindNoCredential           Kind = "no_credential"
	KindReauthRequired         Kind = "oauth_token_revoked"
	KindInsufficientPermission Kind = "insufficient_permissions"
	KindForbidden              Kind = "forbidden"
	KindUnauthorized           Kind = "unauthorized"
	KindRateLimited            Kind = "rate_limited"
	KindUpstreamUnavailable    Kind = "google_api_unavailable"
	KindInvalidRequest         Kind = "invalid_request"
	KindRedirectURIMismatch    Kind = "redirect_uri_mismatch"
	KindValidation             Kind = "validation_error"
	KindNotFound               Kind = "not_found"
	KindImportInProgress       Kind = "import_in_progress"
	KindInternal               Kind = "internal_error"
)

// HTTPStatus returns the status code an API response should carry for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInvalidRequest, KindRedirectURIMismatch:
		return http.StatusBadRequest
	case KindReauthRequired, KindUnauthorized, KindNoCredential:
		return http.StatusUnauthorized
	case KindInsufficientPermission, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindImportInProgress:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Upstream HTTP failures, token lifecycle failures
// and request validation failures are all reported through it.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int // upstream HTTP status, 0 if not applicable
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Kind))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// New creates a classified error. Only rate limiting is retryable by default.
func New(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: kind == KindRateLimited,
		Cause:     cause,
	}
}

// NewWithStatus creates a classified error carrying the upstream HTTP status.
func NewWithStatus(kind Kind, statusCode int, message string, cause error) *Error {
	e := New(kind, message, cause)
	e.StatusCode = statusCode
	return e
}

func NoCredential(message string) *Error {
	return New(KindNoCredential, message, nil)
}

func ReauthRequired(message string, cause error) *Error {
	return New(KindReauthRequired, message, cause)
}

func UpstreamUnavailable(message string, cause error) *Error {
	return New(KindUpstreamUnavailable, message, cause)
}

func Validation(message string) *Error {
	return New(KindValidation, message, nil)
}

// KindOf returns the classification of err, KindNotFound for ErrNotFound,
// KindImportInProgress for ErrImportInProgress and KindInternal otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrImportInProgress):
		return KindImportInProgress
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
