package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const DefaultUnsplashEndpoint = "https://api.unsplash.com/search/photos"

// UnsplashProvider searches for a stock photo matching the prompt and
// downloads the best match. Search and download form one logical call.
type UnsplashProvider struct {
	baseProvider
}

// NewUnsplashProvider creates an Unsplash provider, filling defaults.
func NewUnsplashProvider(spec ProviderSpec, client *http.Client, logger *zap.Logger) *UnsplashProvider {
	if spec.Endpoint == "" {
		spec.Endpoint = DefaultUnsplashEndpoint
	}
	return &UnsplashProvider{baseProvider: newBaseProvider(spec, client, logger)}
}

// Supports reports text requests only.
func (p *UnsplashProvider) Supports(kind RequestKind) bool {
	return kind == KindText
}

type unsplashSearch struct {
	Results []struct {
		URLs struct {
			Regular string `json:"regular"`
			Full    string `json:"full"`
		} `json:"urls"`
	} `json:"results"`
}

// Attempt searches and downloads.
func (p *UnsplashProvider) Attempt(ctx context.Context, req *GenerationRequest) (*ImageResult, error) {
	if err := p.preflight(req, p.Supports(req.Kind)); err != nil {
		return nil, err
	}

	u, err := url.Parse(p.spec.Endpoint)
	if err != nil {
		return nil, p.fail(FailureFatal, "invalid endpoint", err)
	}
	q := u.Query()
	q.Set("query", searchQuery(req.Prompt, 3))
	q.Set("per_page", "1")
	q.Set("orientation", "landscape")
	u.RawQuery = q.Encode()

	searchReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, p.fail(FailureFatal, "building search request", err)
	}
	searchReq.Header.Set("Accept-Version", "v1")
	searchReq.Header.Set("Accept", "application/json")
	p.authorizeClient(searchReq)

	body, _, err := p.do(ctx, searchReq)
	if err != nil {
		return nil, err
	}

	var search unsplashSearch
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, &ProviderError{Provider: p.spec.Name, Kind: FailureNormalization,
			Err: &NormalizationError{Reason: "malformed search response", Err: err}}
	}
	if len(search.Results) == 0 {
		return nil, p.fail(FailureFatal, "no images found", nil)
	}
	imageURL := search.Results[0].URLs.Regular
	if imageURL == "" {
		imageURL = search.Results[0].URLs.Full
	}
	if imageURL == "" {
		return nil, &ProviderError{Provider: p.spec.Name, Kind: FailureNormalization,
			Err: &NormalizationError{Reason: "search result has no image URL"}}
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, p.fail(FailureFatal, "building download request", err)
	}
	dlReq.Header.Set("Accept", "image/*")

	imgBody, contentType, err := p.do(ctx, dlReq)
	if err != nil {
		return nil, err
	}
	return p.normalize(imgBody, contentType)
}

// authorizeClient attaches an access key. Unsplash uses "Client-ID" rather
// than a bearer token for public actions.
func (p *UnsplashProvider) authorizeClient(r *http.Request) {
	if p.spec.Credential == "" {
		return
	}
	if p.spec.Auth == AuthBearer {
		p.authorize(r)
		return
	}
	r.Header.Set("Authorization", "Client-ID "+p.spec.Credential)
}

// searchQuery keeps the first n words of the prompt.
func searchQuery(prompt string, n int) string {
	words := strings.Fields(prompt)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
