package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrProvidersExhausted, "all providers failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("huggingface")

	if GetErrorCode(err) != ErrProvidersExhausted {
		t.Fatalf("expected code %s, got %s", ErrProvidersExhausted, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_HelpersSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrMissingCredential, "token not configured").WithRetryable(false)
	wrapped := fmt.Errorf("serve: %w", inner)

	if GetErrorCode(wrapped) != ErrMissingCredential {
		t.Fatalf("expected wrapped code to be found")
	}
	if IsRetryable(wrapped) {
		t.Fatalf("expected non-retryable")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("expected empty code for plain error")
	}
}
