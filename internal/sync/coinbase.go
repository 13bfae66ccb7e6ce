package sync

import (
	"context"

	"unified_portfolio/internal/broker"
	"unified_portfolio/internal/broker/coinbase"
	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/secrets"
)

// CoinbaseProvider runs Coinbase fetch cycles. Credentials are read from
// the store at the start of every cycle.
type CoinbaseProvider struct {
	client *coinbase.Client
	store  secrets.Store
	log    *logger.Entry
}

// NewCoinbaseProvider creates a Coinbase provider.
func NewCoinbaseProvider(client *coinbase.Client, store secrets.Store, l *logger.Log) *CoinbaseProvider {
	return &CoinbaseProvider{
		client: client,
		store:  store,
		log:    l.WithComponent(broker.Coinbase),
	}
}

// Name implements broker.Provider.
func (p *CoinbaseProvider) Name() string { return broker.Coinbase }

// FetchPortfolio implements broker.Provider.
func (p *CoinbaseProvider) FetchPortfolio(ctx context.Context) (*broker.Result, error) {
	values, err := secrets.Lookup(ctx, p.store, secrets.CoinbasePublic, secrets.CoinbasePrivate)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.FetchPortfolio(ctx, coinbase.Credentials{
		KeyName:    values[secrets.CoinbasePublic],
		PrivateKey: values[secrets.CoinbasePrivate],
	})
	if err != nil {
		return nil, err
	}

	result, errs := coinbase.NormalizeBreakdown(resp)
	for _, e := range errs {
		p.log.WithFields(logger.Fields(apperrors.Details(e))).WithError(e).Warn("skipping spot position")
	}
	return result, nil
}
