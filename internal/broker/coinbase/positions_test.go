package coinbase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified_portfolio/internal/broker"
	apperrors "unified_portfolio/internal/errors"
)

func decodeBreakdown(t *testing.T, body string) *BreakdownResponse {
	t.Helper()
	var resp BreakdownResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return &resp
}

func TestNormalizeBreakdown_Fixture(t *testing.T) {
	t.Parallel()

	result, errs := NormalizeBreakdown(decodeBreakdown(t, breakdownFixture))
	require.Empty(t, errs)

	assert.Equal(t, broker.Coinbase, result.Provider)
	assert.Equal(t, "USD", result.Currency)
	assert.Equal(t, 500.0, result.Cash)
	require.Len(t, result.Positions, 1)

	btc := result.Positions[0]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, 0.1, btc.Quantity)
	assert.Equal(t, 6000.0, btc.CurrentValue)
	assert.Equal(t, 5000.0, btc.CostBasis)
	assert.Equal(t, 50000.0, btc.CostAverage)
	assert.Equal(t, 1000.0, btc.UnrealizedPnL)
	assert.Equal(t, "crypto", btc.AssetClass)
	assert.False(t, btc.IsCash)

	assert.Equal(t, 6500.0, result.Balance())
	assert.Equal(t, 5000.0, result.CostBasis())
}

func TestNormalizeSpotPosition_Loss(t *testing.T) {
	t.Parallel()

	pos, err := NormalizeSpotPosition(SpotPosition{
		Asset:            "ETH",
		TotalBalanceFiat: 800,
		CostBasis:        Amount{Value: 1000},
	}, "USD")
	require.NoError(t, err)
	assert.Equal(t, -200.0, pos.UnrealizedPnL)
}

func TestNormalizeBreakdown_SkipsMalformed(t *testing.T) {
	t.Parallel()

	body := `{"breakdown":{"spot_positions":[
		{"asset":"", "total_balance_fiat":"10"},
		{"asset":"DOGE", "total_balance_fiat":"-1"},
		{"asset":"SOL", "total_balance_fiat":"20", "cost_basis":{"value":"25"}}
	]}}`

	result, errs := NormalizeBreakdown(decodeBreakdown(t, body))
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.True(t, apperrors.IsSchema(err))
	}
	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Positions, 1)
	assert.Equal(t, "SOL", result.Positions[0].Symbol)
	assert.Equal(t, -5.0, result.Positions[0].UnrealizedPnL)
	assert.Equal(t, broker.DefaultCurrency, result.Currency)
}

func TestNormalizeBreakdown_MultipleCashEntries(t *testing.T) {
	t.Parallel()

	body := `{"breakdown":{"spot_positions":[
		{"asset":"USD", "total_balance_fiat":"100.5", "is_cash":true},
		{"asset":"USDC", "total_balance_fiat":49.5, "is_cash":true}
	]}}`

	result, errs := NormalizeBreakdown(decodeBreakdown(t, body))
	require.Empty(t, errs)
	assert.Empty(t, result.Positions)
	assert.Equal(t, 150.0, result.Cash)
	assert.Equal(t, 150.0, result.Balance())
	assert.Zero(t, result.CostBasis())
}
