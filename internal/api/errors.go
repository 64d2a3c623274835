package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcus/fieldsync/internal/engine"
)

// Error code constants for structured API error responses.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeSyncInProgress = "sync_in_progress"
	ErrCodeStorage        = "storage_error"
	ErrCodeTimeout        = "timeout"
)

// APIError represents a structured error returned by the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RunID   string `json:"runId,omitempty"`
}

// ErrorResponse wraps an APIError for JSON serialization.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeAPIError(w, status, APIError{Code: code, Message: message})
}

func writeAPIError(w http.ResponseWriter, status int, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: apiErr}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}

// writeEngineError maps engine errors onto HTTP responses. Storage details
// are logged, not returned.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *engine.ConflictError
	var notFound *engine.NotFoundError
	var storage *engine.StorageError

	switch {
	case errors.As(err, &conflict):
		writeAPIError(w, http.StatusConflict, APIError{
			Code:    ErrCodeSyncInProgress,
			Message: err.Error(),
			RunID:   conflict.RunID,
		})
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "operation timed out")
	case errors.As(err, &storage):
		logFor(r.Context()).Error("storage", "op", storage.Op, "err", storage.Err)
		writeError(w, http.StatusInternalServerError, ErrCodeStorage, "storage failure during "+storage.Op)
	default:
		logFor(r.Context()).Error("unhandled", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
