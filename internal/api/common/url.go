// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/store"
)

// GetAndValidateURLParam extracts and decodes a URL parameter from the request.
// The value must not be empty and must not contain whitespace.
func GetAndValidateURLParam(r *http.Request, paramName string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, paramName))
	if err != nil {
		return "", models.NewValidationError(paramName, "invalid URL encoding")
	}
	if strings.TrimSpace(decoded) == "" {
		return "", models.NewValidationError(paramName, "cannot be empty")
	}
	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", models.NewValidationError(paramName, "cannot contain whitespace")
	}
	return decoded, nil
}

// UUIDParam parses a URL parameter as a UUID
func UUIDParam(r *http.Request, paramName string) (uuid.UUID, error) {
	raw, err := GetAndValidateURLParam(r, paramName)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, models.NewValidationError(paramName, "must be a UUID")
	}
	return id, nil
}

// UUIDQuery parses a query parameter as a UUID
func UUIDQuery(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.URL.Query().Get(name))
	if err != nil {
		return uuid.Nil, models.NewValidationError(name, "must be a UUID")
	}
	return id, nil
}

// QueryInt parses an optional integer query parameter
func QueryInt(r *http.Request, name string) (int, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, models.NewValidationError(name, "must be an integer")
	}
	return n, true, nil
}

// PageOptions translates the limit and offset query parameters into list options
func PageOptions(r *http.Request, withOffset bool) ([]store.Option, error) {
	var opts []store.Option
	limit, ok, err := QueryInt(r, "limit")
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, store.WithLimit(limit))
	}
	if !withOffset {
		return opts, nil
	}
	offset, ok, err := QueryInt(r, "offset")
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, store.WithOffset(offset))
	}
	return opts, nil
}
