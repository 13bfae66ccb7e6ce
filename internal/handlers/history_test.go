package handlers

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified_portfolio/internal/models"
	"unified_portfolio/internal/repository"
)

type fakeHistory struct {
	rows      []*models.SyncHistory
	err       error
	lastLimit int
	provider  string
}

func (f *fakeHistory) GetRecent(limit int) ([]*models.SyncHistory, error) {
	f.lastLimit = limit
	return f.rows, f.err
}

func (f *fakeHistory) GetByProvider(provider string, limit int) ([]*models.SyncHistory, error) {
	f.provider, f.lastLimit = provider, limit
	var out []*models.SyncHistory
	for _, r := range f.rows {
		if r.Provider == provider {
			out = append(out, r)
		}
	}
	return out, f.err
}

func TestHistoryHandler_List(t *testing.T) {
	repo := &fakeHistory{rows: []*models.SyncHistory{
		{ID: 2, Provider: "schwab", Status: models.SyncStatusError, ErrorMessage: "network error", StartedAt: time.Now()},
		{ID: 1, Provider: "coinbase", Status: models.SyncStatusSuccess, PositionsSynced: 3, StartedAt: time.Now()},
	}}
	h := NewHistoryHandler(NewDependencies().WithSyncHistory(repo))

	rec := serve(http.HandlerFunc(h.List), "GET", "/api/sync/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, repository.DefaultLimit, repo.lastLimit)
	assert.Len(t, decode(t, rec)["history"], 2)

	rec = serve(http.HandlerFunc(h.List), "GET", "/api/sync/history?provider=Coinbase&limit=1000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "coinbase", repo.provider)
	assert.Equal(t, repository.MaxLimit, repo.lastLimit)
	assert.Len(t, decode(t, rec)["history"], 1)
}

func TestHistoryHandler_Errors(t *testing.T) {
	h := NewHistoryHandler(NewDependencies().WithSyncHistory(&fakeHistory{err: errors.New("disk I/O error")}))

	rec := serve(http.HandlerFunc(h.List), "GET", "/api/sync/history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(http.HandlerFunc(h.List), "GET", "/api/sync/history")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHistoryHandler_EmptyIsArray(t *testing.T) {
	h := NewHistoryHandler(NewDependencies().WithSyncHistory(&fakeHistory{}))

	rec := serve(http.HandlerFunc(h.List), "GET", "/api/sync/history?provider=schwab")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"history":[]}`, rec.Body.String())
}
