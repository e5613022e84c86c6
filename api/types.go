package api

import (
	"github.com/BaSui01/imagerelay/imagegen"
)

// =============================================================================
// Generate
// =============================================================================

// GenerateRequest is the JSON body of POST /api/generate. Exactly one of
// Prompt or SourceImage is expected.
type GenerateRequest struct {
	// Prompt describes the image to generate
	Prompt string `json:"prompt,omitempty" example:"a lighthouse at dusk"`
	// SourceImage is raw base64 or a data URL of the image to edit
	SourceImage string `json:"sourceImage,omitempty"`
	// Instruction describes the edit applied to SourceImage
	Instruction string `json:"instruction,omitempty" example:"make it brighter"`
}

// GenerateResponse is the success body of POST /api/generate.
type GenerateResponse struct {
	Success bool `json:"success"`
	// ImageData is a data URL of the acquired image
	ImageData    string `json:"imageData"`
	Provider     string `json:"provider"`
	UsedFallback bool   `json:"usedFallback"`
	// Fallback mirrors UsedFallback for older clients
	Fallback  bool                     `json:"fallback"`
	Attempts  []imagegen.AttemptRecord `json:"attempts,omitempty"`
	RequestID string                   `json:"requestId,omitempty"`
}

// ErrorResponse is the error body of every endpoint.
type ErrorResponse struct {
	Success    bool                     `json:"success"`
	Error      string                   `json:"error"`
	Code       string                   `json:"code"`
	Retryable  bool                     `json:"retryable,omitempty"`
	RetryAfter int                      `json:"retryAfter,omitempty"`
	Attempts   []imagegen.AttemptRecord `json:"attempts,omitempty"`
	RequestID  string                   `json:"requestId,omitempty"`
}
