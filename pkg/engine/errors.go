package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass tells callers whether re-invoking a failed build is sensible.
type ErrorClass string

const (
	// ErrorClassTransient is a temporary failure such as a timeout or a 5xx response.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled is a platform rate limit response (HTTP 429).
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict is a resource state conflict (HTTP 409).
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent will fail again without operator action.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError is a classified error with build context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	Class     ErrorClass `json:"class"`
	Message   string     `json:"message"`
	Code      string     `json:"code,omitempty"`
	Resource  string     `json:"resource,omitempty"`
	Operation string     `json:"operation,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another *EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, message, err)
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return newError(ErrorClassThrottled, message, err)
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return newError(ErrorClassConflict, message, err)
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, message, err)
}

// WithResource records the resource key the error relates to.
func (e *EngineError) WithResource(resourceKey string) *EngineError {
	e.Resource = resourceKey
	return e
}

// WithOperation records the operation being performed.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

func codeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassThrottled
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassConflict
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassPermanent
}

// IsRetryable reports whether re-running the build may succeed.
// Completed steps are skipped on the next run, so retrying is always safe.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool {
	return codeOf(err) == ErrCodeNotFound
}

// IsCancelled reports whether the build stopped because its context ended.
func IsCancelled(err error) bool {
	return codeOf(err) == ErrCodeCancelled ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(what, id string) *EngineError {
	return NewPermanentError(fmt.Sprintf("%s not found", what), nil).
		WithCode(ErrCodeNotFound).
		WithResource(id)
}

// ClassifyHTTPStatus maps an unexpected platform response code to an error.
func ClassifyHTTPStatus(statusCode int, message string) *EngineError {
	detail := fmt.Errorf("platform responded with HTTP %d", statusCode)

	var e *EngineError
	switch {
	case statusCode == http.StatusTooManyRequests:
		e = NewThrottledError(message, detail).WithCode(ErrCodeRateLimited)
	case statusCode == http.StatusConflict:
		e = NewConflictError(message, detail).WithCode(ErrCodeConflict)
	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		e = NewTransientError(message, detail).WithCode(ErrCodeUnexpectedStatus)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		e = NewPermanentError(message, detail).WithCode(ErrCodePermissionDenied)
	default:
		e = NewPermanentError(message, detail).WithCode(ErrCodeUnexpectedStatus)
	}
	return e.WithDetail("status_code", statusCode)
}

// Error codes.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeCredentialsMissing = "CREDENTIALS_MISSING"
	ErrCodePolicyViolation    = "POLICY_VIOLATION"
	ErrCodeUnexpectedStatus   = "UNEXPECTED_STATUS"
	ErrCodeTransport          = "TRANSPORT_ERROR"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeStorage            = "STORAGE_ERROR"
)
