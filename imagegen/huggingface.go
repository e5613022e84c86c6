package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

const (
	DefaultHuggingFaceEndpoint  = "https://router.huggingface.co/hf-inference/models/{model}"
	DefaultHuggingFaceModel     = "runwayml/stable-diffusion-v1-5"
	DefaultHuggingFaceEditModel = "lllyasviel/control_v1p_sd15_brightness"
)

// HuggingFaceProvider calls the Hugging Face inference API.
// Endpoint: POST /models/{model}, Auth: Bearer token, reply: image bytes.
type HuggingFaceProvider struct {
	baseProvider
}

// NewHuggingFaceProvider creates a Hugging Face provider, filling defaults.
func NewHuggingFaceProvider(spec ProviderSpec, client *http.Client, logger *zap.Logger) *HuggingFaceProvider {
	if spec.Endpoint == "" {
		spec.Endpoint = DefaultHuggingFaceEndpoint
	}
	if spec.Model == "" {
		spec.Model = DefaultHuggingFaceModel
	}
	if spec.Auth == "" {
		spec.Auth = AuthBearer
	}
	return &HuggingFaceProvider{baseProvider: newBaseProvider(spec, client, logger)}
}

// Supports reports text always and image edits when an edit model is set.
func (p *HuggingFaceProvider) Supports(kind RequestKind) bool {
	switch kind {
	case KindText:
		return true
	case KindImageEdit:
		return p.spec.EditModel != ""
	default:
		return false
	}
}

type hfRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters *hfParameters `json:"parameters,omitempty"`
}

type hfParameters struct {
	Prompt string `json:"prompt,omitempty"`
}

// Attempt sends one inference call.
func (p *HuggingFaceProvider) Attempt(ctx context.Context, req *GenerationRequest) (*ImageResult, error) {
	if err := p.preflight(req, p.Supports(req.Kind)); err != nil {
		return nil, err
	}

	model := p.spec.Model
	body := hfRequest{Inputs: req.Prompt}
	if req.Kind == KindImageEdit {
		model = p.spec.EditModel
		body = hfRequest{
			Inputs:     req.SourceDataURL(),
			Parameters: &hfParameters{Prompt: req.Instruction},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, p.fail(FailureFatal, "encoding request", err)
	}

	endpoint := expandEndpoint(p.spec.Endpoint, model, req.Text())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, p.fail(FailureFatal, fmt.Sprintf("building request for %s", endpoint), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")
	p.authorize(httpReq)

	respBody, contentType, err := p.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	return p.normalize(respBody, contentType)
}
