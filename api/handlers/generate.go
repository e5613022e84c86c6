package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imagerelay/api"
	"github.com/BaSui01/imagerelay/imagegen"
	"github.com/BaSui01/imagerelay/internal/ctxkeys"
	"github.com/BaSui01/imagerelay/types"
)

// =============================================================================
// Generate handler
// =============================================================================

// Acquirer produces one image per request.
type Acquirer interface {
	Acquire(ctx context.Context, req *imagegen.GenerationRequest) (*imagegen.ImageResult, error)
}

// FailureRecorder keeps terminal acquisition failures for diagnostics.
type FailureRecorder interface {
	Record(ctx context.Context, requestID string, failure *imagegen.AcquisitionError) error
}

// multipartMemory bounds the in-memory part of a multipart upload.
const multipartMemory = 10 << 20

// journalTimeout bounds a failure journal write.
const journalTimeout = 2 * time.Second

// GenerateHandler serves POST /api/generate.
type GenerateHandler struct {
	acquirer      Acquirer
	journal       FailureRecorder
	journalResult func(error)
	logger        *zap.Logger
}

// GenerateOption configures a GenerateHandler.
type GenerateOption func(*GenerateHandler)

// WithFailureJournal records terminal failures in j. observe, when set, sees
// the outcome of every write.
func WithFailureJournal(j FailureRecorder, observe func(error)) GenerateOption {
	return func(h *GenerateHandler) {
		h.journal = j
		h.journalResult = observe
	}
}

// NewGenerateHandler creates the generate handler.
func NewGenerateHandler(acquirer Acquirer, logger *zap.Logger, opts ...GenerateOption) *GenerateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &GenerateHandler{
		acquirer: acquirer,
		logger:   logger.With(zap.String("component", "generate_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleGenerate acquires an image for a text prompt or an image edit.
// JSON callers get a data URL; callers whose Accept header prefers image/*
// get the raw bytes.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	body, ok := h.readRequest(w, r)
	if !ok {
		return
	}

	req, err := buildRequest(body)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, err.Error()).
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	h.logger.Info("generate request",
		zap.String("kind", req.Kind.String()),
		zap.String("text", imagegen.Truncate(req.Text(), 50)),
		zap.Int("source_bytes", len(req.SourceImage)),
	)

	result, err := h.acquirer.Acquire(r.Context(), req)
	if err != nil {
		h.writeAcquireError(w, r, err)
		return
	}

	if prefersImage(r.Header.Get("Accept")) {
		w.Header().Set("Content-Type", result.MIMEType)
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.Header().Set("X-Image-Provider", result.SourceProvider)
		w.Header().Set("X-Used-Fallback", strconv.FormatBool(result.UsedFallback))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	requestID, _ := ctxkeys.RequestID(r.Context())
	WriteJSON(w, http.StatusOK, api.GenerateResponse{
		Success:      true,
		ImageData:    result.DataURL(),
		Provider:     result.SourceProvider,
		UsedFallback: result.UsedFallback,
		Fallback:     result.UsedFallback,
		Attempts:     result.Attempts,
		RequestID:    requestID,
	})
}

// readRequest decodes a JSON or multipart body. It writes the error response
// itself and reports false on failure.
func (h *GenerateHandler) readRequest(w http.ResponseWriter, r *http.Request) (api.GenerateRequest, bool) {
	var body api.GenerateRequest

	switch ct := mediaType(r.Header.Get("Content-Type")); ct {
	case "", "application/json":
		if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
			return body, false
		}
		return body, true

	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "invalid multipart body").
				WithCause(err).
				WithHTTPStatus(http.StatusBadRequest), h.logger)
			return body, false
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		body.Prompt = r.FormValue("prompt")
		body.Instruction = r.FormValue("instruction")
		body.SourceImage = r.FormValue("sourceImage")

		file, _, err := r.FormFile("sourceImage")
		switch {
		case err == nil:
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				WriteError(w, r, types.NewError(types.ErrInvalidRequest, "failed to read source image").
					WithCause(err).
					WithHTTPStatus(http.StatusBadRequest), h.logger)
				return body, false
			}
			body.SourceImage = imagegen.Image{Data: data, MIMEType: http.DetectContentType(data)}.DataURL()
		case !errors.Is(err, http.ErrMissingFile):
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "invalid source image upload").
				WithCause(err).
				WithHTTPStatus(http.StatusBadRequest), h.logger)
			return body, false
		}
		return body, true

	default:
		WriteErrorMessage(w, r, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
			"Content-Type must be application/json or multipart/form-data", h.logger)
		return body, false
	}
}

// buildRequest turns the wire body into a validated generation request.
func buildRequest(body api.GenerateRequest) (*imagegen.GenerationRequest, error) {
	hasPrompt := strings.TrimSpace(body.Prompt) != ""
	hasSource := strings.TrimSpace(body.SourceImage) != ""

	var req *imagegen.GenerationRequest
	switch {
	case hasPrompt && hasSource:
		return nil, errors.New("provide either prompt or sourceImage, not both")
	case hasSource:
		data, mimeType, err := imagegen.DecodeImagePayload(body.SourceImage)
		if err != nil {
			return nil, fmt.Errorf("sourceImage is not a valid image: %w", err)
		}
		if !strings.HasPrefix(mimeType, "image/") {
			return nil, fmt.Errorf("sourceImage must be an image, got %s", mimeType)
		}
		req = imagegen.NewImageEditRequest(data, strings.TrimSpace(body.Instruction))
		req.SourceMIME = mimeType
	default:
		if body.Instruction != "" {
			return nil, errors.New("instruction requires sourceImage")
		}
		req = imagegen.NewTextRequest(strings.TrimSpace(body.Prompt))
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// =============================================================================
// Error mapping
// =============================================================================

func (h *GenerateHandler) writeAcquireError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, imagegen.ErrInvalidRequest) {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, err.Error()).
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	ae, ok := imagegen.AsAcquisitionError(err)
	if !ok {
		if errors.Is(err, context.Canceled) {
			h.logger.Debug("client went away", zap.Error(err))
			WriteError(w, r, types.NewError(types.ErrRequestCanceled, "request canceled").WithCause(err), nil)
			return
		}
		WriteError(w, r, types.NewError(types.ErrInternalError, "image acquisition failed").WithCause(err), h.logger)
		return
	}

	h.recordFailure(r, ae)

	apiErr := acquisitionToAPIError(ae)
	body := api.ErrorResponse{Attempts: ae.Attempts}
	if ae.Kind == imagegen.AcquisitionTransient {
		secs := retryAfterSeconds(ae.RetryAfter)
		body.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeError(w, r, apiErr, body, h.logger)
}

// acquisitionToAPIError maps a terminal acquisition failure to its HTTP error.
func acquisitionToAPIError(ae *imagegen.AcquisitionError) *types.Error {
	switch ae.Kind {
	case imagegen.AcquisitionMissingCredential:
		return types.NewError(types.ErrMissingCredential, ae.Reason).
			WithHTTPStatus(http.StatusInternalServerError).
			WithCause(ae)
	case imagegen.AcquisitionTransient:
		return types.NewError(types.ErrProviderUnavailable, ae.Reason).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true).
			WithCause(ae)
	case imagegen.AcquisitionUnsupported:
		return types.NewError(types.ErrUnsupported, ae.Reason).
			WithHTTPStatus(http.StatusUnprocessableEntity).
			WithCause(ae)
	default:
		return types.NewError(types.ErrProvidersExhausted, ae.Reason).
			WithHTTPStatus(http.StatusBadGateway).
			WithCause(ae)
	}
}

func (h *GenerateHandler) recordFailure(r *http.Request, ae *imagegen.AcquisitionError) {
	if h.journal == nil {
		return
	}
	requestID, _ := ctxkeys.RequestID(r.Context())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), journalTimeout)
	defer cancel()

	err := h.journal.Record(ctx, requestID, ae)
	if h.journalResult != nil {
		h.journalResult(err)
	}
	if err != nil {
		h.logger.Warn("failed to journal acquisition failure", zap.String("request_id", requestID), zap.Error(err))
	}
}

// retryAfterSeconds renders a wait as whole seconds, rounded up, at least 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// =============================================================================
// Content negotiation
// =============================================================================

// prefersImage reports whether the Accept header ranks an image type above JSON.
func prefersImage(accept string) bool {
	if accept == "" {
		return false
	}
	var imageQ, jsonQ float64
	for _, part := range strings.Split(accept, ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
		switch {
		case strings.HasPrefix(mt, "image/"):
			imageQ = max(imageQ, q)
		case mt == "application/json", mt == "application/*", mt == "*/*":
			jsonQ = max(jsonQ, q)
		}
	}
	return imageQ > jsonQ
}
