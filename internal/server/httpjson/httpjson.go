// Package httpjson renders the gateway's JSON response envelope and maps the
// error taxonomy onto HTTP statuses. It sits below both the middleware and
// the handlers so either side can report errors without importing the other.
package httpjson

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
)

// ErrorResponse is the JSON envelope for every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the machine-readable code and human-readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError maps an error onto its HTTP status and writes the envelope.
func WriteError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: err.Error(),
	}})
}

// WriteBadRequest reports a malformed request body or parameter.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
		Code:    "BAD_REQUEST",
		Message: message,
	}})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify distinguishes the gateway's error taxonomy. "Never checked" and
// "checked unhealthy" deliberately map to different statuses so callers can
// tell a cold gateway from a broken cluster.
func classify(err error) (int, string) {
	var cfgErr *gwerr.ConfigError
	switch {
	case errors.Is(err, gwerr.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, gwerr.ErrPreconditionRequired):
		return http.StatusPreconditionRequired, "PRECONDITION_REQUIRED"
	case errors.Is(err, gwerr.ErrUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	case errors.Is(err, gwerr.ErrNotImplemented):
		return http.StatusNotImplemented, "NOT_IMPLEMENTED"
	case gwerr.IsAuth(err):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, "CONFIGURATION_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
