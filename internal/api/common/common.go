package common

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/store"
	"github.com/stacklok/integration-sync/internal/sync/scheduler"
)

// MaxBodyBytes bounds request bodies
const MaxBodyBytes = 1 << 20

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}

// StatusFor maps a domain error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case models.IsAuthentication(err):
		return http.StatusUnauthorized
	case models.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, scheduler.ErrJobInFlight):
		return http.StatusConflict
	case models.IsAdapter(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with the status StatusFor selects. Internal errors are logged
// and answered with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		WriteErrorResponse(w, "internal server error", status)
		return
	}
	WriteErrorResponse(w, err.Error(), status)
}

// DecodeJSON decodes the request body into v, rejecting unknown fields
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.NewValidationError("body", "invalid JSON: %v", err)
	}
	if dec.More() {
		return models.NewValidationError("body", "unexpected data after the JSON document")
	}
	return nil
}
