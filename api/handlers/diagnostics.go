package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/imagerelay/internal/journal"
	"github.com/BaSui01/imagerelay/types"
)

// defaultFailureLimit is used when the limit query parameter is absent.
const defaultFailureLimit = 50

// FailureLister reads recent journal entries.
type FailureLister interface {
	Recent(ctx context.Context, n int64) ([]journal.Entry, error)
}

// DiagnosticsHandler serves GET /api/v1/diagnostics/failures.
type DiagnosticsHandler struct {
	failures FailureLister
	logger   *zap.Logger
}

// NewDiagnosticsHandler creates the diagnostics handler.
func NewDiagnosticsHandler(failures FailureLister, logger *zap.Logger) *DiagnosticsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiagnosticsHandler{
		failures: failures,
		logger:   logger.With(zap.String("component", "diagnostics_handler")),
	}
}

// FailuresPayload is the data of the failures endpoint.
type FailuresPayload struct {
	Count   int             `json:"count"`
	Entries []journal.Entry `json:"entries"`
}

// HandleFailures lists recent terminal failures, newest first.
func (h *DiagnosticsHandler) HandleFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	limit := int64(defaultFailureLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	entries, err := h.failures.Recent(r.Context(), limit)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInternalError, "failed to read failure journal").
			WithCause(err).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true), h.logger)
		return
	}

	WriteSuccess(w, r, FailuresPayload{Count: len(entries), Entries: entries})
}
