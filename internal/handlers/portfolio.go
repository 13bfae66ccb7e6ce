package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/models"
	"unified_portfolio/internal/portfolio"
	"unified_portfolio/internal/secrets"
	"unified_portfolio/internal/state"
	"unified_portfolio/internal/sync"
)

// PortfolioHandler serves the published aggregate and manual refreshes.
type PortfolioHandler struct {
	projector    *state.Projector
	syncService  *sync.Service
	store        secrets.Store
	baseCurrency string
	log          *logger.Entry
}

// NewPortfolioHandler creates a new PortfolioHandler.
func NewPortfolioHandler(deps *Dependencies) *PortfolioHandler {
	return &PortfolioHandler{
		projector:    deps.Projector,
		syncService:  deps.SyncService,
		store:        deps.Secrets,
		baseCurrency: deps.BaseCurrency,
		log:          deps.logger().WithComponent("portfolio"),
	}
}

// syncResultResponse is a SyncResult with its error rendered.
type syncResultResponse struct {
	*sync.SyncResult
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func newSyncResultResponse(r *sync.SyncResult) syncResultResponse {
	return syncResultResponse{
		SyncResult: r,
		DurationMs: r.Duration.Milliseconds(),
		Error:      errorString(r.Error),
		Details:    apperrors.Details(r.Error),
	}
}

// refreshResponse reports the cycles that ran and the resulting aggregate.
type refreshResponse struct {
	Results   []syncResultResponse          `json:"results"`
	Portfolio *portfolio.AggregatePortfolio `json:"portfolio"`
}

// latest returns the published aggregate, or an empty one before the first
// successful cycle.
func (h *PortfolioHandler) latest() *portfolio.AggregatePortfolio {
	if agg := h.projector.Latest(); agg != nil {
		return agg
	}
	return portfolio.Empty(h.baseCurrency)
}

// Get returns the latest published aggregate.
func (h *PortfolioHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.latest())
}

// Summary returns the display summary. The initial investment is read from
// the TOTAL_INITIAL secret and defaults to zero.
func (h *PortfolioHandler) Summary(w http.ResponseWriter, r *http.Request) {
	initial, err := initialInvestment(r, h.store)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio.BuildSummary(h.latest(), initial))
}

// RefreshAll runs a cycle for every provider. Provider failures are
// reported per result and never fail the request.
func (h *PortfolioHandler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	results := h.syncService.RefreshAll(r.Context(), models.TriggerManual)

	resp := refreshResponse{
		Results:   make([]syncResultResponse, 0, len(results)),
		Portfolio: h.latest(),
	}
	for _, res := range results {
		resp.Results = append(resp.Results, newSyncResultResponse(res))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RefreshProvider runs a cycle for the provider named in the path.
func (h *PortfolioHandler) RefreshProvider(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))

	start := time.Now()
	res, err := h.syncService.RefreshProvider(r.Context(), provider, models.TriggerManual)
	if res == nil {
		writeError(w, err)
		return
	}
	if err != nil {
		h.log.WithFields(logger.Fields{"provider": provider, "elapsed_ms": time.Since(start).Milliseconds()}).
			WithError(err).Warn("manual refresh failed")
		writeJSON(w, apperrors.HTTPStatus(err), newSyncResultResponse(res))
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		Results:   []syncResultResponse{newSyncResultResponse(res)},
		Portfolio: h.latest(),
	})
}

func initialInvestment(r *http.Request, store secrets.Store) (float64, error) {
	if store == nil {
		return 0, nil
	}
	raw, err := store.Get(r.Context(), secrets.TotalInitial)
	if errors.Is(err, secrets.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Internal("reading initial investment", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, apperrors.Validation(secrets.TotalInitial + " is not a number")
	}
	return v, nil
}
