package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/doujins-org/newsfeed/recommend"
)

type errorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.log.Debug().Err(err).Msg("write response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, errorBody{Error: apiError{Code: code, Message: message}})
}

// respondServiceError maps service sentinels to status codes. Internal
// causes are logged, not echoed.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, recommend.ErrInvalidInput):
		h.respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, recommend.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, recommend.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("dependency unavailable")
		h.respondError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		w.WriteHeader(499)
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.respondError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
