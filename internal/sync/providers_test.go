package sync

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified_portfolio/internal/broker"
	"unified_portfolio/internal/broker/coinbase"
	"unified_portfolio/internal/broker/schwab"
	apperrors "unified_portfolio/internal/errors"
	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/models"
	"unified_portfolio/internal/portfolio"
	"unified_portfolio/internal/secrets"
	"unified_portfolio/internal/state"
)

const breakdownFixture = `{
  "breakdown": {
    "portfolio_balances": {"total_balance": {"value": "6500", "currency": "USD"}},
    "spot_positions": [
      {"asset": "USD", "total_balance_fiat": 500, "is_cash": true},
      {"asset": "BTC", "total_balance_crypto": 0.1, "total_balance_fiat": 6000, "cost_basis": {"value": "5000", "currency": "USD"}}
    ]
  }
}`

func escapedPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	return strings.ReplaceAll(string(block), "\n", `\n`)
}

func TestCoinbaseProvider_EndToEnd(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/brokerage/portfolios", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		_, _ = w.Write([]byte(`{"portfolios":[{"uuid":"uuid-1"}]}`))
	})
	mux.HandleFunc("/api/v3/brokerage/portfolios/uuid-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(breakdownFixture))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := secrets.NewMemoryStore(map[string]string{
		secrets.CoinbasePublic:  "organizations/org/apiKeys/key",
		secrets.CoinbasePrivate: escapedPEM(t),
	})
	client := coinbase.NewClient(
		coinbase.WithBaseURL(srv.URL),
		coinbase.WithHTTPClient(srv.Client()),
		coinbase.WithRequestDelay(0),
		coinbase.WithLogger(logger.Discard()),
	)

	projector := state.NewProjector(nil)
	svc := NewService(projector, []broker.Provider{
		NewCoinbaseProvider(client, store, logger.Discard()),
	}, WithLogger(logger.Discard()))

	_, err := svc.RefreshProvider(t.Context(), broker.Coinbase, models.TriggerManual)
	require.NoError(t, err)

	agg := projector.Latest()
	require.NotNil(t, agg)
	assert.Equal(t, 500.0, agg.Cash)
	assert.Equal(t, 1000.0, agg.Positions[portfolio.PositionKey{Provider: broker.Coinbase, Symbol: "BTC"}].UnrealizedPnL)
	assert.Equal(t, 6500.0, agg.TotalBalance.Value)
}

func TestCoinbaseProvider_MissingSecrets(t *testing.T) {
	t.Parallel()

	client := coinbase.NewClient(coinbase.WithLogger(logger.Discard()))
	p := NewCoinbaseProvider(client, secrets.NewMemoryStore(nil), logger.Discard())

	_, err := p.FetchPortfolio(t.Context())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), secrets.CoinbasePrivate)
}

// fakeSchwab serves the token, account numbers and positions endpoints.
// The first positionsFailures positions calls answer 401.
type fakeSchwab struct {
	tokenCalls        atomic.Int32
	accountCalls      atomic.Int32
	positionsCalls    atomic.Int32
	positionsFailures int32
}

func (f *fakeSchwab) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-" + string(rune('0'+n)),
			"refresh_token": "refresh-next",
			"expires_in":    1800,
		})
	})
	mux.HandleFunc("/trader/v1/accounts/accountNumbers", func(w http.ResponseWriter, r *http.Request) {
		f.accountCalls.Add(1)
		_, _ = w.Write([]byte(`[{"accountNumber":"123","hashValue":"HASH"}]`))
	})
	mux.HandleFunc("/trader/v1/accounts/HASH", func(w http.ResponseWriter, r *http.Request) {
		n := f.positionsCalls.Add(1)
		if n <= f.positionsFailures {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "positions", r.URL.Query().Get("fields"))
		_, _ = w.Write([]byte(`{"securitiesAccount":{
			"positions":[{"instrument":{"symbol":"AAPL","assetType":"EQUITY"},"longQuantity":10,"marketValue":2000,"averagePrice":150,"longOpenProfitLoss":500}],
			"currentBalances":{"cashBalance":100,"liquidationValue":2100}}}`))
	})
	return mux
}

func newSchwabProvider(t *testing.T, srv *httptest.Server) (*SchwabProvider, *schwab.Manager) {
	t.Helper()
	client := schwab.NewClient(
		schwab.WithBaseURL(srv.URL),
		schwab.WithHTTPClient(srv.Client()),
		schwab.WithRequestDelay(0),
		schwab.WithLogger(logger.Discard()),
	)
	manager := schwab.NewManager(
		schwab.WithAuthBaseURL(srv.URL),
		schwab.WithTokenHTTPClient(srv.Client()),
		schwab.WithAPIClient(client),
		schwab.WithManagerLogger(logger.Discard()),
	)
	manager.Restore("refresh-1")

	store := secrets.NewMemoryStore(map[string]string{
		secrets.SchwabAppKey:   "app-key",
		secrets.SchwabSecret:   "app-secret",
		secrets.SchwabCallback: "https://127.0.0.1/callback",
	})
	return NewSchwabProvider(manager, client, store, logger.Discard()), manager
}

func TestSchwabProvider_RefreshesEveryCycle(t *testing.T) {
	t.Parallel()

	fake := &fakeSchwab{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p, _ := newSchwabProvider(t, srv)
	for range 2 {
		result, err := p.FetchPortfolio(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 2100.0, result.Balance())
		assert.Equal(t, 2600.0, result.CostBasis())
		assert.Equal(t, 100.0, result.Cash)
	}
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
	assert.Equal(t, int32(2), fake.positionsCalls.Load())
}

func TestSchwabProvider_ResolvesAccountOncePerSession(t *testing.T) {
	t.Parallel()

	fake := &fakeSchwab{positionsFailures: 1}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p, manager := newSchwabProvider(t, srv)
	for range 3 {
		_, err := p.FetchPortfolio(t.Context())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(4), fake.tokenCalls.Load(), "three cycles plus one retry")
	assert.Equal(t, int32(1), fake.accountCalls.Load())

	manager.Logout()
	manager.Restore("refresh-1")
	_, err := p.FetchPortfolio(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.accountCalls.Load(), "a new session looks the account up again")
}

func TestSchwabProvider_RetriesOnceOnUnauthorized(t *testing.T) {
	t.Parallel()

	fake := &fakeSchwab{positionsFailures: 1}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p, _ := newSchwabProvider(t, srv)
	result, err := p.FetchPortfolio(t.Context())
	require.NoError(t, err)
	require.Len(t, result.Positions, 1)

	assert.Equal(t, int32(2), fake.tokenCalls.Load())
	assert.Equal(t, int32(2), fake.positionsCalls.Load())
}

func TestSchwabProvider_GivesUpAfterOneRetry(t *testing.T) {
	t.Parallel()

	fake := &fakeSchwab{positionsFailures: 10}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p, _ := newSchwabProvider(t, srv)
	_, err := p.FetchPortfolio(t.Context())
	require.Error(t, err)
	assert.True(t, schwab.IsUnauthorized(err))
	assert.Equal(t, int32(2), fake.positionsCalls.Load())
}

func TestSchwabProvider_FailureKeepsPublishedAggregate(t *testing.T) {
	t.Parallel()

	fake := &fakeSchwab{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p, manager := newSchwabProvider(t, srv)
	projector := state.NewProjector(nil)
	svc := NewService(projector, []broker.Provider{p}, WithLogger(logger.Discard()))

	_, err := svc.RefreshProvider(t.Context(), broker.Schwab, models.TriggerManual)
	require.NoError(t, err)
	before := projector.Latest()

	manager.Logout()
	_, err = svc.RefreshProvider(t.Context(), broker.Schwab, models.TriggerManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, schwab.ErrNoSession)
	assert.Same(t, before, projector.Latest())
}
