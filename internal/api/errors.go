// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
	"github.com/ManuGH/streamrelay/internal/domain/stream/supervisor"
	"github.com/ManuGH/streamrelay/internal/log"
)

// ErrorResponse is the body of every non-2xx API answer. Message is the
// user-facing reason; Code is stable for clients.
type ErrorResponse struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps err onto a status code and a displayable reason.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "api.error").
			Str("code", code).
			Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   model.Reason(err),
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrStreamNotFound):
		return http.StatusNotFound, model.Code(err)
	case errors.Is(err, model.ErrNoRemainingTime),
		errors.Is(err, model.ErrMaxRetriesExceeded),
		errors.Is(err, model.ErrStartInProgress):
		return http.StatusConflict, model.Code(err)
	case errors.Is(err, supervisor.ErrStreamActive):
		return http.StatusConflict, "stream_active"
	case errors.Is(err, supervisor.ErrStopping):
		return http.StatusConflict, "stream_stopping"
	case errors.Is(err, model.ErrMediaNotFound):
		return http.StatusUnprocessableEntity, model.Code(err)
	case errors.Is(err, model.ErrRepositoryUnavailable):
		return http.StatusServiceUnavailable, model.Code(err)
	case errors.Is(err, supervisor.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	default:
		return http.StatusInternalServerError, model.Code(err)
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{
		Code:      "unauthorized",
		Message:   "missing or invalid API token",
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

func writeNotFound(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Code:      "not_found",
		Message:   msg,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}
