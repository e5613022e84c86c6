package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Provider is one external image source.
type Provider interface {
	// Name returns the configured provider name.
	Name() string

	// Priority returns the rank; lower ranks are consulted first.
	Priority() int

	// Supports reports whether the provider can serve the request kind.
	Supports(kind RequestKind) bool

	// CredentialSatisfied reports whether the auth requirement is met.
	CredentialSatisfied() bool

	// Attempt issues exactly one logical outbound call.
	Attempt(ctx context.Context, req *GenerationRequest) (*ImageResult, error)
}

// AuthRequirement is the credential a provider needs.
type AuthRequirement string

const (
	AuthNone   AuthRequirement = "none"
	AuthBearer AuthRequirement = "bearer"
)

// ResponseShape is what the provider replies with on success.
type ResponseShape string

const (
	ShapeRaw  ResponseShape = "raw"
	ShapeJSON ResponseShape = "json"
)

// ProviderSpec is the immutable per-provider configuration.
type ProviderSpec struct {
	Name           string
	Adapter        string
	Endpoint       string // may contain {model} and {prompt}
	Model          string
	EditModel      string
	Auth           AuthRequirement
	Credential     string
	Shape          ResponseShape
	Priority       int
	Width          int
	Height         int
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

// CredentialSatisfied reports whether a bearer requirement has a credential.
func (s ProviderSpec) CredentialSatisfied() bool {
	return s.Auth != AuthBearer || strings.TrimSpace(s.Credential) != ""
}

const defaultMaxBodyBytes = 32 << 20

// =============================================================================
// Shared HTTP plumbing
// =============================================================================

// baseProvider holds what every HTTP adapter shares.
type baseProvider struct {
	spec    ProviderSpec
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newBaseProvider(spec ProviderSpec, client *http.Client, logger *zap.Logger) baseProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec.Auth == "" {
		spec.Auth = AuthNone
	}
	if spec.Shape == "" {
		spec.Shape = ShapeRaw
	}
	if spec.MaxBodyBytes <= 0 {
		spec.MaxBodyBytes = defaultMaxBodyBytes
	}

	var limiter *rate.Limiter
	if spec.RateLimitRPS > 0 {
		burst := spec.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(spec.RateLimitRPS), burst)
	}

	return baseProvider{
		spec:    spec,
		client:  client,
		limiter: limiter,
		logger:  logger.With(zap.String("provider", spec.Name)),
	}
}

func (b *baseProvider) Name() string { return b.spec.Name }

func (b *baseProvider) Priority() int { return b.spec.Priority }

func (b *baseProvider) CredentialSatisfied() bool { return b.spec.CredentialSatisfied() }

func (b *baseProvider) fail(kind FailureKind, msg string, err error) *ProviderError {
	return &ProviderError{Provider: b.spec.Name, Kind: kind, Message: msg, Err: err}
}

// preflight rejects requests that must not reach the network.
func (b *baseProvider) preflight(req *GenerationRequest, supported bool) error {
	if !supported {
		return b.fail(FailureUnsupported, req.Kind.String()+" requests are not supported", nil)
	}
	if !b.CredentialSatisfied() {
		return b.fail(FailureMissingCredential, "bearer credential not configured", nil)
	}
	return nil
}

// authorize attaches the configured credential, if any.
func (b *baseProvider) authorize(r *http.Request) {
	if b.spec.Credential != "" && b.spec.Auth == AuthBearer {
		r.Header.Set("Authorization", "Bearer "+b.spec.Credential)
	}
}

// do waits for the outbound limiter, sends the request and reads the body.
// Status codes >= 400 are classified into a ProviderError.
func (b *baseProvider) do(ctx context.Context, req *http.Request) ([]byte, string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			return nil, "", &ProviderError{Provider: b.spec.Name, Kind: FailureTransient, Message: "outbound rate limit", Err: err}
		}
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("%s: %w", b.spec.Name, ctx.Err())
		}
		return nil, "", &ProviderError{Provider: b.spec.Name, Kind: FailureTransient, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.spec.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("%s: %w", b.spec.Name, ctx.Err())
		}
		return nil, "", &ProviderError{Provider: b.spec.Name, Kind: FailureTransient, Status: resp.StatusCode, Message: "reading response", Err: err}
	}
	if int64(len(body)) > b.spec.MaxBodyBytes {
		return nil, "", &ProviderError{Provider: b.spec.Name, Kind: FailureFatal, Status: resp.StatusCode,
			Message: fmt.Sprintf("response exceeds %d bytes", b.spec.MaxBodyBytes)}
	}

	b.logger.Debug("provider responded",
		zap.String("method", req.Method),
		zap.String("host", req.URL.Host),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", b.classifyStatus(resp.StatusCode, resp.Header, body)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// classifyStatus maps an error status to a ProviderError. Only "warming up"
// and "rate limited" conditions are transient.
func (b *baseProvider) classifyStatus(status int, header http.Header, body []byte) *ProviderError {
	pe := &ProviderError{Provider: b.spec.Name, Kind: FailureFatal, Status: status, Message: errorMessage(body)}

	switch status {
	case http.StatusServiceUnavailable:
		pe.Kind = FailureTransient
		pe.WaitHint = estimatedTime(body)
		if pe.WaitHint == 0 {
			pe.WaitHint = parseRetryAfter(header.Get("Retry-After"), time.Now())
		}
	case http.StatusTooManyRequests:
		pe.Kind = FailureTransient
		pe.WaitHint = parseRetryAfter(header.Get("Retry-After"), time.Now())
	case http.StatusUnauthorized, http.StatusForbidden:
		if pe.Message == "" {
			pe.Message = "credential rejected"
		}
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(status)
	}
	return pe
}

// normalize applies the response shape before handing the body to Normalize.
func (b *baseProvider) normalize(body []byte, contentType string) (*ImageResult, error) {
	if b.spec.Shape == ShapeJSON && !isStructured(mediaTypeOf(contentType)) {
		contentType = "application/json"
	}
	img, err := Normalize(body, contentType)
	if err != nil {
		return nil, &ProviderError{Provider: b.spec.Name, Kind: FailureNormalization, Err: err}
	}
	return &ImageResult{Image: img, SourceProvider: b.spec.Name}, nil
}

// expandEndpoint fills the {model} and {prompt} placeholders.
func expandEndpoint(tmpl, model, prompt string) string {
	out := strings.ReplaceAll(tmpl, "{model}", model)
	return strings.ReplaceAll(out, "{prompt}", url.PathEscape(prompt))
}

// errorMessage extracts {"error": "..."} from a provider body, or a short
// excerpt of the body otherwise.
func errorMessage(body []byte) string {
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch v := payload.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(body))
	return Truncate(text, 200)
}

// estimatedTime reads the inference API's {"estimated_time": seconds} hint.
func estimatedTime(body []byte) time.Duration {
	var payload struct {
		EstimatedTime float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.EstimatedTime <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(payload.EstimatedTime * float64(time.Second)))
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// IsProviderError reports whether err carries a ProviderError of the given kind.
func IsProviderError(err error, kind FailureKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == kind
}
