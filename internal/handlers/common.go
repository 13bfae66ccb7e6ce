// Package handlers provides HTTP handlers for the portfolio API.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
)

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.GetLogger().WithError(err).Warn("encoding response")
	}
}

// writeError maps err to a status code. Only provider, endpoint and status
// details are exposed.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), errorResponse{
		Error:   err.Error(),
		Details: apperrors.Details(err),
	})
}

// errorString returns err's message, or "" for nil.
func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
