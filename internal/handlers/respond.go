package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/invis/backend/internal/apperr"
	"github.com/invis/backend/internal/logging"
)

const maxJSONBody = 1 << 20

type envelope struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError writes err in the error envelope. Errors without a
// classification become 500s whose cause is only logged.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	appErr := apperr.From(err)
	if appErr.Cause != nil {
		logging.FromContext(ctx).Error("request error cause", "code", appErr.Code, "error", appErr.Cause)
	}
	respondJSON(ctx, w, appErr.Status, errorBody{Error: errorDetail{Code: appErr.Code, Message: appErr.Message}})
}

func respondMessage(ctx context.Context, w http.ResponseWriter, status int, message string, data any) {
	respondJSON(ctx, w, status, envelope{Message: message, Data: data})
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is required")
		case errors.As(err, &maxErr):
			return apperr.Validation(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		default:
			return apperr.Validation("invalid request body")
		}
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{
		Code:    "METHOD_NOT_ALLOWED",
		Message: "method not allowed",
	}})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	respondError(r.Context(), w, apperr.NotFound("route not found"))
}
