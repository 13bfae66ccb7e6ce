package handlers

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/models"
	"unified_portfolio/internal/repository"
)

// HistoryHandler serves the sync history.
type HistoryHandler struct {
	repo HistoryReader
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(deps *Dependencies) *HistoryHandler {
	return &HistoryHandler{repo: deps.SyncHistory}
}

// List returns recent cycles, newest first. Supports ?provider= and ?limit=.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	var n int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		n, err = strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, apperrors.Validation("limit must be a positive integer"))
			return
		}
	}
	limit := repository.NewPagination(n, 0).Limit

	var (
		rows []*models.SyncHistory
		err  error
	)
	if provider := strings.ToLower(r.URL.Query().Get("provider")); provider != "" {
		rows, err = h.repo.GetByProvider(provider, limit)
	} else {
		rows, err = h.repo.GetRecent(limit)
	}
	if err != nil {
		writeError(w, apperrors.Internal("loading sync history", err))
		return
	}
	if rows == nil {
		rows = []*models.SyncHistory{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": rows})
}
