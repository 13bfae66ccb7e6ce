package sync

import (
	"context"

	"unified_portfolio/internal/broker"
	"unified_portfolio/internal/broker/schwab"
	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/secrets"
)

// SchwabProvider runs Schwab fetch cycles. Every cycle reloads the app
// credentials and refreshes the session before fetching. A 401 on the
// positions call triggers one more refresh and a single retry.
type SchwabProvider struct {
	manager *schwab.Manager
	client  *schwab.Client
	store   secrets.Store
	log     *logger.Entry
}

// NewSchwabProvider creates a Schwab provider.
func NewSchwabProvider(manager *schwab.Manager, client *schwab.Client, store secrets.Store, l *logger.Log) *SchwabProvider {
	return &SchwabProvider{
		manager: manager,
		client:  client,
		store:   store,
		log:     l.WithComponent(broker.Schwab),
	}
}

// Name implements broker.Provider.
func (p *SchwabProvider) Name() string { return broker.Schwab }

// Configure loads the app credentials into the manager.
func (p *SchwabProvider) Configure(ctx context.Context) error {
	values, err := secrets.Lookup(ctx, p.store, secrets.SchwabAppKey, secrets.SchwabSecret, secrets.SchwabCallback)
	if err != nil {
		return err
	}
	p.manager.Configure(schwab.Credentials{
		AppKey:   values[secrets.SchwabAppKey],
		Secret:   values[secrets.SchwabSecret],
		Callback: values[secrets.SchwabCallback],
	})
	return nil
}

// FetchPortfolio implements broker.Provider.
func (p *SchwabProvider) FetchPortfolio(ctx context.Context) (*broker.Result, error) {
	if err := p.Configure(ctx); err != nil {
		return nil, err
	}

	resp, err := p.fetch(ctx)
	if schwab.IsUnauthorized(err) {
		p.log.Warn("positions call rejected, refreshing once")
		resp, err = p.fetch(ctx)
	}
	if err != nil {
		return nil, err
	}

	result, errs := schwab.NormalizeAccount(resp)
	for _, e := range errs {
		p.log.WithFields(logger.Fields(apperrors.Details(e))).WithError(e).Warn("skipping position")
	}
	return result, nil
}

// fetch refreshes the session, resolves the account and fetches positions.
func (p *SchwabProvider) fetch(ctx context.Context) (*schwab.AccountResponse, error) {
	if _, err := p.manager.Refresh(ctx); err != nil {
		return nil, err
	}
	hash, err := p.manager.ResolveAccountHash(ctx)
	if err != nil {
		return nil, err
	}
	session, ok := p.manager.Session()
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrAuthExchange, "fetching positions", schwab.ErrNoSession)
	}
	session.AccountHash = hash
	return p.client.FetchPositions(ctx, &session)
}
