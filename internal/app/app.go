// Package app wires the application's components together. The HTTP
// server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unified_portfolio/internal/broker"
	"unified_portfolio/internal/broker/coinbase"
	"unified_portfolio/internal/broker/schwab"
	"unified_portfolio/internal/config"
	"unified_portfolio/internal/database"
	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/repository"
	"unified_portfolio/internal/secrets"
	"unified_portfolio/internal/state"
	"unified_portfolio/internal/sync"
)

// historyRetention bounds how long sync history rows are kept.
const historyRetention = 90 * 24 * time.Hour

// App holds the application dependencies.
type App struct {
	Config *config.Config
	DB     *database.DB
	Log    *logger.Log

	SyncHistory *repository.SyncHistoryRepository
	Snapshots   *repository.SnapshotRepository

	// Secrets reads the database first, then the environment. Writes go
	// to the database.
	Secrets   secrets.Store
	DBSecrets *secrets.DBStore

	SchwabManager    *schwab.Manager
	SchwabProvider   *sync.SchwabProvider
	CoinbaseProvider *sync.CoinbaseProvider

	Projector   *state.Projector
	SyncService *sync.Service
}

// New opens the database, runs migrations and builds every component.
// The persisted Schwab refresh token, if any, is restored.
func New(ctx context.Context, cfg *config.Config, log *logger.Log) (*App, error) {
	db, err := database.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	enc, err := secrets.NewEncryptor(cfg.EncryptionSecret)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	a := &App{
		Config:      cfg,
		DB:          db,
		Log:         log,
		SyncHistory: repository.NewSyncHistoryRepository(db),
		Snapshots:   repository.NewSnapshotRepository(db),
		DBSecrets:   secrets.NewDBStore(repository.NewSecretRepository(db), enc),
	}
	a.Secrets = secrets.Chain{a.DBSecrets, secrets.NewEnvStore()}

	if n, err := a.SyncHistory.DeleteOlderThan(time.Now().Add(-historyRetention)); err != nil {
		log.WithComponent("app").WithError(err).Warn("failed to prune sync history")
	} else if n > 0 {
		log.WithComponent("app").WithField("rows", n).Info("pruned sync history")
	}

	coinbaseClient := coinbase.NewClient(
		coinbase.WithBaseURL(cfg.CoinbaseBaseURL),
		coinbase.WithRequestDelay(cfg.RequestDelay),
		coinbase.WithLogger(log),
	)
	schwabClient := schwab.NewClient(
		schwab.WithBaseURL(cfg.SchwabBaseURL),
		schwab.WithRequestDelay(cfg.RequestDelay),
		schwab.WithLogger(log),
	)
	a.SchwabManager = schwab.NewManager(
		schwab.WithAuthBaseURL(cfg.SchwabBaseURL),
		schwab.WithAPIClient(schwabClient),
		schwab.WithManagerLogger(log),
	)
	a.restoreSchwab(ctx)
	a.SchwabManager.OnSession(a.persistSchwab)

	a.CoinbaseProvider = sync.NewCoinbaseProvider(coinbaseClient, a.Secrets, log)
	a.SchwabProvider = sync.NewSchwabProvider(a.SchwabManager, schwabClient, a.Secrets, log)

	a.Projector = state.NewProjector(nil)
	a.SyncService = sync.NewService(a.Projector,
		[]broker.Provider{a.CoinbaseProvider, a.SchwabProvider},
		sync.WithHistory(a.SyncHistory),
		sync.WithSnapshots(a.Snapshots),
		sync.WithBaseCurrency(cfg.BaseCurrency),
		sync.WithLogger(log),
	)

	return a, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

// ForgetSchwab drops the session and its persisted refresh token.
func (a *App) ForgetSchwab(ctx context.Context) error {
	a.SchwabManager.Logout()
	if err := a.DBSecrets.Delete(ctx, secrets.SchwabRefreshToken); err != nil {
		return apperrors.Internal("deleting refresh token", err)
	}
	return nil
}

// restoreSchwab seeds the session from the stored refresh token. A token
// that cannot be read, for example after the encryption secret changed,
// leaves the manager unauthenticated.
func (a *App) restoreSchwab(ctx context.Context) {
	token, err := a.DBSecrets.Get(ctx, secrets.SchwabRefreshToken)
	if errors.Is(err, secrets.ErrNotFound) {
		return
	}
	if err != nil {
		a.Log.WithComponent(broker.Schwab).WithError(err).
			Warn("stored refresh token unreadable, authorize again")
		return
	}
	a.SchwabManager.Restore(token)
	a.Log.WithComponent(broker.Schwab).Info("restored session from stored refresh token")
}

// persistSchwab stores every rotated refresh token so a restart keeps the
// session.
func (a *App) persistSchwab(s schwab.Session) {
	if s.RefreshToken == "" {
		return
	}
	if err := a.DBSecrets.Set(context.Background(), secrets.SchwabRefreshToken, s.RefreshToken); err != nil {
		a.Log.WithComponent(broker.Schwab).WithError(err).Error("failed to persist refresh token")
	}
}
