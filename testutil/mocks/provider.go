// MockProvider is a scripted imagegen.Provider for orchestrator tests.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/imagerelay/imagegen"
	"github.com/BaSui01/imagerelay/testutil/fixtures"
)

// Step is one scripted outcome: an error, or success when Err is nil.
type Step struct {
	Err error
}

// MockProvider implements imagegen.Provider without touching the network.
type MockProvider struct {
	mu sync.Mutex

	name       string
	priority   int
	kinds      map[imagegen.RequestKind]bool
	credential bool
	script     []Step
	image      imagegen.Image
	blockUntil <-chan struct{}

	calls int
}

// NewMockProvider creates a text-capable provider that always succeeds.
func NewMockProvider(name string, priority int) *MockProvider {
	return &MockProvider{
		name:       name,
		priority:   priority,
		kinds:      map[imagegen.RequestKind]bool{imagegen.KindText: true},
		credential: true,
		image:      imagegen.Image{Data: fixtures.PNG, MIMEType: "image/png"},
	}
}

// WithKinds replaces the supported request kinds.
func (m *MockProvider) WithKinds(kinds ...imagegen.RequestKind) *MockProvider {
	m.kinds = make(map[imagegen.RequestKind]bool, len(kinds))
	for _, k := range kinds {
		m.kinds[k] = true
	}
	return m
}

// WithoutCredential marks the bearer requirement as unmet.
func (m *MockProvider) WithoutCredential() *MockProvider {
	m.credential = false
	return m
}

// WithScript sets the outcomes of successive calls; the last one repeats.
func (m *MockProvider) WithScript(steps ...Step) *MockProvider {
	m.script = steps
	return m
}

// WithErrors is WithScript for failures only.
func (m *MockProvider) WithErrors(errs ...error) *MockProvider {
	steps := make([]Step, len(errs))
	for i, err := range errs {
		steps[i] = Step{Err: err}
	}
	return m.WithScript(steps...)
}

// WithImage sets the image returned on success.
func (m *MockProvider) WithImage(img imagegen.Image) *MockProvider {
	m.image = img
	return m
}

// BlockUntil makes Attempt wait for ch or the context.
func (m *MockProvider) BlockUntil(ch <-chan struct{}) *MockProvider {
	m.blockUntil = ch
	return m
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Priority() int { return m.priority }

func (m *MockProvider) Supports(kind imagegen.RequestKind) bool { return m.kinds[kind] }

func (m *MockProvider) CredentialSatisfied() bool { return m.credential }

// Attempt plays the next scripted step.
func (m *MockProvider) Attempt(ctx context.Context, req *imagegen.GenerationRequest) (*imagegen.ImageResult, error) {
	m.mu.Lock()
	n := m.calls
	m.calls++
	m.mu.Unlock()

	if m.blockUntil != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.blockUntil:
		}
	}

	if len(m.script) > 0 {
		step := m.script[min(n, len(m.script)-1)]
		if step.Err != nil {
			return nil, step.Err
		}
	}
	return &imagegen.ImageResult{Image: m.image, SourceProvider: m.name}, nil
}

// Calls returns how many times Attempt ran.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Transient builds a transient provider failure without a wait hint.
func Transient(provider string) error {
	return TransientAfter(provider, 0)
}

// TransientAfter builds a transient provider failure asking to wait d.
func TransientAfter(provider string, d time.Duration) error {
	return &imagegen.ProviderError{Provider: provider, Kind: imagegen.FailureTransient, Status: 503, WaitHint: d, Message: "model loading"}
}

// Fatal builds a fatal provider failure.
func Fatal(provider string, status int) error {
	return &imagegen.ProviderError{Provider: provider, Kind: imagegen.FailureFatal, Status: status, Message: "rejected"}
}
