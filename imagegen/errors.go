package imagegen

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/imagerelay/retry"
)

// =============================================================================
// Provider-level failures
// =============================================================================

// FailureKind classifies why a single provider did not produce an image.
type FailureKind int

const (
	FailureTransient FailureKind = iota + 1
	FailureFatal
	FailureUnsupported
	FailureMissingCredential
	FailureNormalization
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureFatal:
		return "fatal"
	case FailureUnsupported:
		return "unsupported"
	case FailureMissingCredential:
		return "missing_credential"
	case FailureNormalization:
		return "normalization"
	default:
		return ""
	}
}

// MarshalText renders the kind by name in JSON payloads.
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name. Unknown names decode to the zero kind.
func (k *FailureKind) UnmarshalText(text []byte) error {
	*k = 0
	for c := FailureTransient; c <= FailureNormalization; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return nil
}

// ProviderError is returned by a provider's Attempt.
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Status   int
	WaitHint time.Duration
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient implements retry.Retryable.
func (e *ProviderError) Transient() bool { return e.Kind == FailureTransient }

// RetryAfter implements retry.Retryable.
func (e *ProviderError) RetryAfter() time.Duration { return e.WaitHint }

var _ retry.Retryable = (*ProviderError)(nil)

// NormalizationError reports a response whose shape yielded no image bytes.
type NormalizationError struct {
	Reason string
	Err    error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return "normalize response: " + e.Reason + ": " + e.Err.Error()
	}
	return "normalize response: " + e.Reason
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// classify maps an error returned through the retry controller to a kind.
func classify(err error) FailureKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return FailureNormalization
	}
	if retry.IsTransient(err) {
		return FailureTransient
	}
	return FailureFatal
}

func statusOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

// =============================================================================
// Terminal failures
// =============================================================================

// AcquisitionKind tags an AcquisitionError.
type AcquisitionKind int

const (
	AcquisitionMissingCredential AcquisitionKind = iota + 1
	AcquisitionExhausted
	AcquisitionTransient
	AcquisitionUnsupported
)

func (k AcquisitionKind) String() string {
	switch k {
	case AcquisitionMissingCredential:
		return "missing_credential"
	case AcquisitionExhausted:
		return "all_providers_exhausted"
	case AcquisitionTransient:
		return "transient"
	case AcquisitionUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// AcquisitionError is the terminal failure of an acquisition.
type AcquisitionError struct {
	Kind       AcquisitionKind
	Attempts   []AttemptRecord
	RetryAfter time.Duration
	Reason     string
	cause      error
}

func newMissingCredential(attempts []AttemptRecord, reason string) *AcquisitionError {
	return &AcquisitionError{Kind: AcquisitionMissingCredential, Attempts: attempts, Reason: reason}
}

func newExhausted(attempts []AttemptRecord) *AcquisitionError {
	return &AcquisitionError{
		Kind:     AcquisitionExhausted,
		Attempts: attempts,
		Reason:   fmt.Sprintf("all %d providers failed", len(attempts)),
	}
}

func newTransient(attempts []AttemptRecord, after time.Duration, cause error) *AcquisitionError {
	return &AcquisitionError{
		Kind:       AcquisitionTransient,
		Attempts:   attempts,
		RetryAfter: after,
		Reason:     "providers temporarily unavailable",
		cause:      cause,
	}
}

func newUnsupported(reason string) *AcquisitionError {
	return &AcquisitionError{Kind: AcquisitionUnsupported, Reason: reason}
}

func (e *AcquisitionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Kind == AcquisitionTransient && e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %s)", e.RetryAfter)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Succeeded {
			continue
		}
		part := a.Provider + ": " + a.Kind.String()
		if a.Reason != "" {
			part += " " + a.Reason
		}
		parts = append(parts, part)
	}
	if len(parts) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString("]")
	}
	return b.String()
}

func (e *AcquisitionError) Unwrap() error { return e.cause }

// AsAcquisitionError extracts an *AcquisitionError from err's chain.
func AsAcquisitionError(err error) (*AcquisitionError, bool) {
	var ae *AcquisitionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
