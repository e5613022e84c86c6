package imagegen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const DefaultPollinationsEndpoint = "https://image.pollinations.ai/prompt/{prompt}"

// PollinationsProvider calls the keyless Pollinations GET endpoint.
type PollinationsProvider struct {
	baseProvider
	seed func() int
}

// NewPollinationsProvider creates a Pollinations provider, filling defaults.
func NewPollinationsProvider(spec ProviderSpec, client *http.Client, logger *zap.Logger) *PollinationsProvider {
	if spec.Endpoint == "" {
		spec.Endpoint = DefaultPollinationsEndpoint
	}
	if spec.Width <= 0 {
		spec.Width = 512
	}
	if spec.Height <= 0 {
		spec.Height = 512
	}
	return &PollinationsProvider{
		baseProvider: newBaseProvider(spec, client, logger),
		seed:         func() int { return rand.IntN(1_000_000) },
	}
}

// Supports reports text requests only.
func (p *PollinationsProvider) Supports(kind RequestKind) bool {
	return kind == KindText
}

// Attempt fetches one generated image.
func (p *PollinationsProvider) Attempt(ctx context.Context, req *GenerationRequest) (*ImageResult, error) {
	if err := p.preflight(req, p.Supports(req.Kind)); err != nil {
		return nil, err
	}

	endpoint := expandEndpoint(p.spec.Endpoint, p.spec.Model, req.Prompt)
	if !strings.Contains(p.spec.Endpoint, "{prompt}") {
		endpoint = strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(req.Prompt)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, p.fail(FailureFatal, "invalid endpoint", err)
	}
	q := u.Query()
	q.Set("width", strconv.Itoa(p.spec.Width))
	q.Set("height", strconv.Itoa(p.spec.Height))
	q.Set("seed", strconv.Itoa(p.seed()))
	if p.spec.Model != "" {
		q.Set("model", p.spec.Model)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, p.fail(FailureFatal, fmt.Sprintf("building request for %s", u.Host), err)
	}
	httpReq.Header.Set("Accept", "image/*")
	p.authorize(httpReq)

	body, contentType, err := p.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	return p.normalize(body, contentType)
}
