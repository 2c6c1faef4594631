package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		code      int
		wantClass ErrorClass
		wantCode  string
		retryable bool
	}{
		{http.StatusTooManyRequests, ErrorClassThrottled, ErrCodeRateLimited, true},
		{http.StatusConflict, ErrorClassConflict, ErrCodeConflict, true},
		{http.StatusInternalServerError, ErrorClassTransient, ErrCodeUnexpectedStatus, true},
		{http.StatusServiceUnavailable, ErrorClassTransient, ErrCodeUnexpectedStatus, true},
		{http.StatusRequestTimeout, ErrorClassTransient, ErrCodeUnexpectedStatus, true},
		{http.StatusUnauthorized, ErrorClassPermanent, ErrCodePermissionDenied, false},
		{http.StatusForbidden, ErrorClassPermanent, ErrCodePermissionDenied, false},
		{http.StatusUnprocessableEntity, ErrorClassPermanent, ErrCodeUnexpectedStatus, false},
		{http.StatusAccepted, ErrorClassPermanent, ErrCodeUnexpectedStatus, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := ClassifyHTTPStatus(tt.code, "step failed")
			if err.Class != tt.wantClass || err.Code != tt.wantCode {
				t.Errorf("ClassifyHTTPStatus(%d) = %s/%s, want %s/%s", tt.code, err.Class, err.Code, tt.wantClass, tt.wantCode)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", IsRetryable(err), tt.retryable)
			}
			if err.Details["status_code"] != tt.code {
				t.Errorf("status_code detail = %v", err.Details["status_code"])
			}
		})
	}
}

func TestEngineError_Error(t *testing.T) {
	err := NewTransientError("step 2: provisioning call failed", errors.New("connection reset")).
		WithResource("tag_vip")

	want := "[transient] step 2: provisioning call failed (resource=tag_vip): connection reset"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestEngineError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("saving: %w", NewTransientError("failed to persist", cause).WithCode(ErrCodeStorage))

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the cause")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassTransient, Code: ErrCodeStorage}) {
		t.Error("errors.Is did not match class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeStorage}) {
		t.Error("errors.Is matched a different class")
	}
}

func TestErrorPredicates(t *testing.T) {
	notFound := NewNotFoundError("credentials", "loc-1")
	if !IsNotFound(notFound) || !IsPermanent(notFound) {
		t.Errorf("NewNotFoundError() = %v", notFound)
	}
	if !strings.Contains(notFound.Error(), "loc-1") {
		t.Errorf("not found error %q lacks the id", notFound.Error())
	}

	if !IsCancelled(fmt.Errorf("wrapped: %w", context.Canceled)) {
		t.Error("context.Canceled not reported as cancelled")
	}
	if !IsCancelled(NewTransientError("build cancelled", nil).WithCode(ErrCodeCancelled)) {
		t.Error("ErrCodeCancelled not reported as cancelled")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error reported as retryable")
	}
}
