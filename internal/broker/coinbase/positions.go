package coinbase

import (
	"fmt"
	"strings"
	"time"

	"unified_portfolio/internal/broker"
	apperrors "unified_portfolio/internal/errors"
)

const (
	assetClassCrypto = "crypto"
	assetClassCash   = "cash"
)

// NormalizeSpotPosition maps a spot position to a broker.Position.
// Unrealized P/L is value minus total cost basis.
func NormalizeSpotPosition(p SpotPosition, currency string) (broker.Position, error) {
	symbol := strings.TrimSpace(p.Asset)
	if symbol == "" {
		return broker.Position{}, apperrors.Schema(broker.Coinbase, "spot position without asset")
	}

	value := p.TotalBalanceFiat.Float64()
	if value < 0 {
		return broker.Position{}, apperrors.Schema(broker.Coinbase, fmt.Sprintf("negative value for %s", symbol))
	}
	costBasis := p.CostBasis.Value.Float64()

	class := assetClassCrypto
	if p.IsCash {
		class = assetClassCash
	}

	return broker.Position{
		Provider:      broker.Coinbase,
		Symbol:        symbol,
		Quantity:      p.TotalBalanceCrypto.Float64(),
		CurrentValue:  value,
		CostAverage:   p.AverageEntryPrice.Value.Float64(),
		CostBasis:     costBasis,
		UnrealizedPnL: value - costBasis,
		AssetClass:    class,
		IsCash:        p.IsCash,
		Currency:      currency,
	}, nil
}

// NormalizeBreakdown maps a portfolio breakdown to a broker.Result. Cash
// entries are summed into Result.Cash. Malformed entries are skipped and
// returned as errors.
func NormalizeBreakdown(resp *BreakdownResponse) (*broker.Result, []error) {
	currency := resp.Breakdown.PortfolioBalances.TotalBalance.Currency
	if currency == "" {
		currency = broker.DefaultCurrency
	}

	result := &broker.Result{
		Provider:  broker.Coinbase,
		Currency:  currency,
		Positions: make([]broker.Position, 0, len(resp.Breakdown.SpotPositions)),
		FetchedAt: time.Now(),
	}

	var errs []error
	for _, sp := range resp.Breakdown.SpotPositions {
		if sp.IsCash {
			value := sp.TotalBalanceFiat.Float64()
			if value < 0 {
				errs = append(errs, apperrors.Schema(broker.Coinbase, fmt.Sprintf("negative cash balance for %s", sp.Asset)))
				result.Skipped++
				continue
			}
			result.Cash += value
			continue
		}

		pos, err := NormalizeSpotPosition(sp, currency)
		if err != nil {
			errs = append(errs, err)
			result.Skipped++
			continue
		}
		result.Positions = append(result.Positions, pos)
	}

	return result, errs
}
