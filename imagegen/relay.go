package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// RelayProvider calls an upstream that speaks the JSON-wrapped contract:
// request { prompt } or { sourceImage, instruction }, reply
// { success, imageData } where imageData is a data URL or bare base64.
type RelayProvider struct {
	baseProvider
}

// NewRelayProvider creates a JSON-wrapped provider.
func NewRelayProvider(spec ProviderSpec, client *http.Client, logger *zap.Logger) *RelayProvider {
	if spec.Shape == "" {
		spec.Shape = ShapeJSON
	}
	return &RelayProvider{baseProvider: newBaseProvider(spec, client, logger)}
}

// Supports reports both request kinds.
func (p *RelayProvider) Supports(kind RequestKind) bool {
	return kind == KindText || kind == KindImageEdit
}

type relayRequest struct {
	Prompt      string `json:"prompt,omitempty"`
	SourceImage string `json:"sourceImage,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

type relayStatus struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// Attempt posts the request and unwraps the envelope.
func (p *RelayProvider) Attempt(ctx context.Context, req *GenerationRequest) (*ImageResult, error) {
	if err := p.preflight(req, p.Supports(req.Kind)); err != nil {
		return nil, err
	}

	body := relayRequest{Prompt: req.Prompt}
	if req.Kind == KindImageEdit {
		body = relayRequest{
			SourceImage: base64.StdEncoding.EncodeToString(req.SourceImage),
			Instruction: req.Instruction,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, p.fail(FailureFatal, "encoding request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, expandEndpoint(p.spec.Endpoint, p.spec.Model, req.Text()), bytes.NewReader(payload))
	if err != nil {
		return nil, p.fail(FailureFatal, "building request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	p.authorize(httpReq)

	respBody, contentType, err := p.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	if p.spec.Shape == ShapeJSON || isStructured(mediaTypeOf(contentType)) {
		var status relayStatus
		if json.Unmarshal(respBody, &status) == nil && status.Success != nil && !*status.Success {
			msg := status.Error
			if msg == "" {
				msg = "upstream reported failure"
			}
			return nil, p.fail(FailureFatal, msg, nil)
		}
	}
	return p.normalize(respBody, contentType)
}
