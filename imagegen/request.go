package imagegen

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// RequestKind distinguishes the two request variants.
type RequestKind int

const (
	// KindText generates an image from a prompt.
	KindText RequestKind = iota + 1
	// KindImageEdit transforms a source image following an instruction.
	KindImageEdit
)

func (k RequestKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImageEdit:
		return "image_edit"
	default:
		return "unknown"
	}
}

// ErrInvalidRequest is wrapped by every validation failure.
var ErrInvalidRequest = errors.New("invalid generation request")

// GenerationRequest is either a text prompt or an image edit. Exactly one
// variant is populated.
type GenerationRequest struct {
	Kind        RequestKind
	Prompt      string
	SourceImage []byte
	SourceMIME  string
	Instruction string
}

// NewTextRequest creates a text-to-image request.
func NewTextRequest(prompt string) *GenerationRequest {
	return &GenerationRequest{Kind: KindText, Prompt: prompt}
}

// NewImageEditRequest creates an image edit request. The MIME type of the
// source is sniffed from its bytes.
func NewImageEditRequest(source []byte, instruction string) *GenerationRequest {
	req := &GenerationRequest{Kind: KindImageEdit, SourceImage: source, Instruction: instruction}
	if len(source) > 0 {
		req.SourceMIME = http.DetectContentType(source)
	}
	return req
}

// Validate enforces the request invariants.
func (r *GenerationRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	switch r.Kind {
	case KindText:
		if strings.TrimSpace(r.Prompt) == "" {
			return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
		}
		if len(r.SourceImage) > 0 || r.Instruction != "" {
			return fmt.Errorf("%w: text request must not carry a source image or instruction", ErrInvalidRequest)
		}
	case KindImageEdit:
		if len(r.SourceImage) == 0 {
			return fmt.Errorf("%w: source image is required", ErrInvalidRequest)
		}
		if strings.TrimSpace(r.Instruction) == "" {
			return fmt.Errorf("%w: instruction is required", ErrInvalidRequest)
		}
		if r.Prompt != "" {
			return fmt.Errorf("%w: image edit request must not carry a prompt", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown request kind %d", ErrInvalidRequest, int(r.Kind))
	}
	return nil
}

// Text returns the prompt or the instruction, whichever the variant carries.
func (r *GenerationRequest) Text() string {
	if r.Kind == KindImageEdit {
		return r.Instruction
	}
	return r.Prompt
}

// SourceDataURL renders the source image as a data URL.
func (r *GenerationRequest) SourceDataURL() string {
	mimeType := r.SourceMIME
	if mimeType == "" {
		mimeType = http.DetectContentType(r.SourceImage)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(r.SourceImage)
}

// Image is the canonical in-memory image.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURL renders the image as a data URL the browser can display directly.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// AttemptRecord describes what happened when one provider was consulted.
type AttemptRecord struct {
	Provider  string      `json:"provider"`
	Attempts  int         `json:"attempts"`
	Succeeded bool        `json:"succeeded"`
	Kind      FailureKind `json:"kind,omitempty"`
	Status    int         `json:"status,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// ImageResult is the successful outcome of an acquisition. The caller owns it.
type ImageResult struct {
	Image
	SourceProvider string
	UsedFallback   bool
	Attempts       []AttemptRecord
}

// Truncate shortens s to n runes for log output.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
