package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMissingFieldError_Message(t *testing.T) {
	err := Missing("abc", "title")
	if !strings.Contains(err.Error(), `"title"`) || !strings.Contains(err.Error(), "abc") {
		t.Errorf("unexpected message: %v", err)
	}
	if !IsMissingField(fmt.Errorf("wrapped: %w", err)) {
		t.Error("wrapped MissingFieldError not detected")
	}
	if IsRetryable(err) {
		t.Error("missing field must not be retryable")
	}
}

func TestFetchError_UnwrapAndRetryable(t *testing.T) {
	err := fmt.Errorf("load: %w", &FetchError{URL: "http://x", Err: context.DeadlineExceeded})
	if !IsRetryable(err) {
		t.Error("fetch error should be retryable")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("fetch error should unwrap to its cause")
	}
}

func TestNotFoundIsNotRetryable(t *testing.T) {
	if IsRetryable(fmt.Errorf("get: %w", ErrNotFound)) {
		t.Error("not found must be terminal")
	}
}
