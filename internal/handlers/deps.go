package handlers

import (
	"context"

	"unified_portfolio/internal/broker/schwab"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/models"
	"unified_portfolio/internal/secrets"
	"unified_portfolio/internal/state"
	"unified_portfolio/internal/sync"
)

// HistoryReader reads sync history rows.
type HistoryReader interface {
	GetRecent(limit int) ([]*models.SyncHistory, error)
	GetByProvider(provider string, limit int) ([]*models.SyncHistory, error)
}

// Configurer loads provider credentials before an authorization step.
type Configurer interface {
	Configure(ctx context.Context) error
}

// Dependencies holds all handler dependencies.
// This reduces constructor parameter lists and simplifies dependency injection.
type Dependencies struct {
	Projector    *state.Projector
	SyncService  *sync.Service
	SyncHistory  HistoryReader
	Secrets      secrets.Store
	BaseCurrency string

	// Schwab authorization
	SchwabManager    *schwab.Manager
	SchwabConfigurer Configurer
	// SchwabLogout, when set, replaces Manager.Logout so stored tokens
	// are dropped too.
	SchwabLogout func(ctx context.Context) error

	Logger *logger.Log
}

// NewDependencies creates an empty Dependencies container.
// Use the builder pattern to set required dependencies.
func NewDependencies() *Dependencies {
	return &Dependencies{BaseCurrency: "USD"}
}

// WithProjector sets the state projector.
func (d *Dependencies) WithProjector(p *state.Projector) *Dependencies {
	d.Projector = p
	return d
}

// WithSyncService sets the sync service.
func (d *Dependencies) WithSyncService(s *sync.Service) *Dependencies {
	d.SyncService = s
	return d
}

// WithSyncHistory sets the sync history reader.
func (d *Dependencies) WithSyncHistory(r HistoryReader) *Dependencies {
	d.SyncHistory = r
	return d
}

// WithSecrets sets the secret store.
func (d *Dependencies) WithSecrets(s secrets.Store) *Dependencies {
	d.Secrets = s
	return d
}

// WithBaseCurrency sets the aggregation currency.
func (d *Dependencies) WithBaseCurrency(c string) *Dependencies {
	d.BaseCurrency = c
	return d
}

// WithSchwab sets the Schwab token manager and its credential loader.
func (d *Dependencies) WithSchwab(m *schwab.Manager, c Configurer) *Dependencies {
	d.SchwabManager = m
	d.SchwabConfigurer = c
	return d
}

// WithSchwabLogout sets the logout action.
func (d *Dependencies) WithSchwabLogout(fn func(ctx context.Context) error) *Dependencies {
	d.SchwabLogout = fn
	return d
}

// WithLogger sets the logger.
func (d *Dependencies) WithLogger(l *logger.Log) *Dependencies {
	d.Logger = l
	return d
}

func (d *Dependencies) logger() *logger.Log {
	if d.Logger != nil {
		return d.Logger
	}
	return logger.GetLogger()
}
