package imagegen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/imagerelay/retry"
)

const instrumentationName = "github.com/BaSui01/imagerelay/imagegen"

// Outcome labels reported to the Recorder besides FailureKind names.
const (
	OutcomeSuccess  = "success"
	OutcomeCanceled = "canceled"
	OutcomeInvalid  = "invalid"
)

// Recorder receives acquisition observations. internal/metrics.Collector
// implements it.
type Recorder interface {
	RecordProviderAttempt(provider, outcome string, attempts int, duration time.Duration)
	RecordRetry(provider string)
	RecordAcquisition(outcome, provider string, usedFallback bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordProviderAttempt(string, string, int, time.Duration) {}
func (nopRecorder) RecordRetry(string)                                       {}
func (nopRecorder) RecordAcquisition(string, string, bool, time.Duration)    {}

// AcquirerOption configures an Acquirer.
type AcquirerOption func(*Acquirer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) AcquirerOption {
	return func(a *Acquirer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRecorder sets the observation sink.
func WithRecorder(r Recorder) AcquirerOption {
	return func(a *Acquirer) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) AcquirerOption {
	return func(a *Acquirer) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithMaxConcurrent bounds in-flight acquisitions; n <= 0 means unbounded.
func WithMaxConcurrent(n int) AcquirerOption {
	return func(a *Acquirer) {
		if n > 0 {
			a.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithDeadline bounds every acquisition; d <= 0 keeps only the caller's deadline.
func WithDeadline(d time.Duration) AcquirerOption {
	return func(a *Acquirer) {
		a.deadline = d
	}
}

// Acquirer tries providers in ascending priority order until one succeeds.
// It keeps no per-request state, so repeated calls are independent.
type Acquirer struct {
	providers []Provider
	retry     *retry.Controller
	policy    retry.Policy
	sem       *semaphore.Weighted
	deadline  time.Duration
	recorder  Recorder
	tracer    trace.Tracer
	fallbacks metric.Int64Counter
	logger    *zap.Logger
}

// NewAcquirer sorts providers by priority (stable for ties) and wires the
// retry controller with policy.
func NewAcquirer(providers []Provider, policy retry.Policy, opts ...AcquirerOption) *Acquirer {
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	a := &Acquirer{
		providers: sorted,
		recorder:  nopRecorder{},
		tracer:    otel.Tracer(instrumentationName),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "acquirer"))

	counter, err := otel.Meter(instrumentationName).Int64Counter("imagegen.fallback.total",
		metric.WithDescription("Acquisitions served by a fallback provider"),
		metric.WithUnit("{acquisition}"))
	if err == nil {
		a.fallbacks = counter
	}

	userHook := policy.OnRetry
	recorder := a.recorder
	policy.OnRetry = func(provider string, state retry.State, err error) {
		recorder.RecordRetry(provider)
		if userHook != nil {
			userHook(provider, state, err)
		}
	}
	a.retry = retry.NewController(policy, a.logger)
	a.policy = a.retry.Policy()
	return a
}

// Providers returns the provider names in consultation order.
func (a *Acquirer) Providers() []string {
	names := make([]string, len(a.providers))
	for i, p := range a.providers {
		names[i] = p.Name()
	}
	return names
}

// Runnable reports whether at least one provider can serve kind with its
// credential requirement met.
func (a *Acquirer) Runnable(kind RequestKind) bool {
	for _, p := range a.providers {
		if p.Supports(kind) && p.CredentialSatisfied() {
			return true
		}
	}
	return false
}

// Acquire returns one image for req or a terminal error. Validation failures
// wrap ErrInvalidRequest, terminal provider failures are *AcquisitionError,
// and caller cancellation returns the context error.
func (a *Acquirer) Acquire(ctx context.Context, req *GenerationRequest) (*ImageResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		a.recorder.RecordAcquisition(OutcomeInvalid, "", false, time.Since(start))
		return nil, err
	}

	if a.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.deadline)
		defer cancel()
	}

	ctx, span := a.tracer.Start(ctx, "imagegen.acquire",
		trace.WithAttributes(
			attribute.String("request.kind", req.Kind.String()),
			attribute.Int("providers.count", len(a.providers)),
		))
	defer span.End()

	if a.sem != nil {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			err = a.interrupted(ctx, nil, 0)
			a.finish(span, start, nil, err)
			return nil, err
		}
		defer a.sem.Release(1)
	}

	result, err := a.acquire(ctx, req)
	a.finish(span, start, result, err)
	return result, err
}

func (a *Acquirer) acquire(ctx context.Context, req *GenerationRequest) (*ImageResult, error) {
	if err := a.preflight(req); err != nil {
		return nil, err
	}

	a.logger.Debug("acquisition started",
		zap.String("kind", req.Kind.String()),
		zap.String("text", Truncate(req.Text(), 50)),
	)

	attempts := make([]AttemptRecord, 0, len(a.providers))
	first := -1
	var lastHint time.Duration

	for i, p := range a.providers {
		if ctx.Err() != nil {
			return nil, a.interrupted(ctx, attempts, lastHint)
		}

		if !p.Supports(req.Kind) {
			attempts = append(attempts, AttemptRecord{
				Provider: p.Name(),
				Kind:     FailureUnsupported,
				Reason:   req.Kind.String() + " requests are not supported",
			})
			a.recorder.RecordProviderAttempt(p.Name(), FailureUnsupported.String(), 0, 0)
			continue
		}

		if !p.CredentialSatisfied() {
			attempts = append(attempts, AttemptRecord{
				Provider: p.Name(),
				Kind:     FailureMissingCredential,
				Reason:   "bearer credential not configured",
			})
			a.recorder.RecordProviderAttempt(p.Name(), FailureMissingCredential.String(), 0, 0)
			if !a.runnableAfter(i, req.Kind) {
				return nil, newMissingCredential(attempts,
					fmt.Sprintf("provider %s requires a credential and no later provider can serve the request", p.Name()))
			}
			continue
		}

		if first < 0 {
			first = i
		}

		result, n, err := a.attempt(ctx, p, req)
		if err == nil {
			result.SourceProvider = p.Name()
			result.UsedFallback = i != first
			result.Attempts = append(attempts, AttemptRecord{Provider: p.Name(), Attempts: n, Succeeded: true})
			return result, nil
		}

		record := AttemptRecord{
			Provider: p.Name(),
			Attempts: n,
			Kind:     classify(err),
			Status:   statusOf(err),
			Reason:   err.Error(),
		}
		attempts = append(attempts, record)

		if hint, ok := retry.RetryAfter(err); ok && hint > 0 {
			lastHint = min(hint, a.policy.MaxDelay)
		}
		if ctx.Err() != nil {
			return nil, a.interrupted(ctx, attempts, lastHint)
		}

		a.logger.Info("provider failed, falling back",
			zap.String("provider", p.Name()),
			zap.String("kind", record.Kind.String()),
			zap.Int("attempts", n),
			zap.Error(err),
		)
	}

	return nil, newExhausted(attempts)
}

// preflight fails before any network call when the request cannot be served.
func (a *Acquirer) preflight(req *GenerationRequest) error {
	supported := false
	for _, p := range a.providers {
		if !p.Supports(req.Kind) {
			continue
		}
		supported = true
		if p.CredentialSatisfied() {
			return nil
		}
	}
	if !supported {
		return newUnsupported(fmt.Sprintf("no configured provider supports %s requests", req.Kind))
	}

	attempts := make([]AttemptRecord, 0, len(a.providers))
	for _, p := range a.providers {
		if p.Supports(req.Kind) {
			attempts = append(attempts, AttemptRecord{
				Provider: p.Name(),
				Kind:     FailureMissingCredential,
				Reason:   "bearer credential not configured",
			})
		}
	}
	return newMissingCredential(attempts, "every capable provider requires a credential that is not configured")
}

func (a *Acquirer) runnableAfter(i int, kind RequestKind) bool {
	for _, p := range a.providers[i+1:] {
		if p.Supports(kind) && p.CredentialSatisfied() {
			return true
		}
	}
	return false
}

// attempt runs one provider through the retry controller.
func (a *Acquirer) attempt(ctx context.Context, p Provider, req *GenerationRequest) (*ImageResult, int, error) {
	ctx, span := a.tracer.Start(ctx, "imagegen.provider",
		trace.WithAttributes(attribute.String("provider", p.Name())))
	defer span.End()

	start := time.Now()
	result, n, err := retry.DoTyped(a.retry, ctx, p.Name(), func(ctx context.Context) (*ImageResult, error) {
		return p.Attempt(ctx, req)
	})

	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = OutcomeCanceled
	default:
		outcome = classify(err).String()
	}
	a.recorder.RecordProviderAttempt(p.Name(), outcome, n, time.Since(start))

	span.SetAttributes(attribute.Int("attempts", n), attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return result, n, err
}

// interrupted converts caller cancellation into the right terminal error: a
// missed deadline is transient, an explicit cancel is returned as is.
func (a *Acquirer) interrupted(ctx context.Context, attempts []AttemptRecord, hint time.Duration) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		if hint <= 0 {
			hint = a.policy.DefaultDelay
		}
		return newTransient(attempts, hint, err)
	}
	return fmt.Errorf("acquisition canceled: %w", err)
}

func (a *Acquirer) finish(span trace.Span, start time.Time, result *ImageResult, err error) {
	duration := time.Since(start)

	if err == nil {
		a.recorder.RecordAcquisition(OutcomeSuccess, result.SourceProvider, result.UsedFallback, duration)
		if result.UsedFallback && a.fallbacks != nil {
			a.fallbacks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("provider", result.SourceProvider)))
		}
		span.SetAttributes(
			attribute.String("provider", result.SourceProvider),
			attribute.Bool("used_fallback", result.UsedFallback),
		)
		a.logger.Info("image acquired",
			zap.String("provider", result.SourceProvider),
			zap.Bool("used_fallback", result.UsedFallback),
			zap.String("mime", result.MIMEType),
			zap.Int("bytes", len(result.Data)),
			zap.Duration("duration", duration),
		)
		return
	}

	outcome := OutcomeCanceled
	if ae, ok := AsAcquisitionError(err); ok {
		outcome = ae.Kind.String()
	}
	a.recorder.RecordAcquisition(outcome, "", false, duration)
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	a.logger.Warn("acquisition failed",
		zap.String("outcome", outcome),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
}
