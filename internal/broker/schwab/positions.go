package schwab

import (
	"fmt"
	"strings"
	"time"

	"unified_portfolio/internal/broker"
	apperrors "unified_portfolio/internal/errors"
)

// NormalizePosition maps an account position to a broker.Position.
// Unrealized P/L is longOpenProfitLoss as reported.
func NormalizePosition(p PositionEntry) (broker.Position, error) {
	symbol := strings.TrimSpace(p.Instrument.Symbol)
	if symbol == "" {
		return broker.Position{}, apperrors.Schema(broker.Schwab, "position without instrument symbol")
	}

	value := p.MarketValue.Float64()
	if value < 0 {
		return broker.Position{}, apperrors.Schema(broker.Schwab, fmt.Sprintf("negative market value for %s", symbol))
	}

	class := p.Instrument.AssetType
	if class == "" {
		class = p.Instrument.Type
	}
	if class == "" {
		class = "Unknown"
	}

	quantity := p.LongQuantity.Float64()
	average := p.AveragePrice.Float64()

	return broker.Position{
		Provider:      broker.Schwab,
		Symbol:        symbol,
		Name:          p.Instrument.Description,
		Quantity:      quantity,
		CurrentValue:  value,
		CostAverage:   average,
		CostBasis:     quantity * average,
		UnrealizedPnL: p.LongOpenProfitLoss.Float64(),
		AssetClass:    class,
		IsCash:        false,
		Currency:      broker.DefaultCurrency,
	}, nil
}

// NormalizeAccount maps an account payload to a broker.Result. Totals are
// taken from the reported balances: Balance is liquidationValue and
// CostBasis is the summed longOpenProfitLoss plus liquidationValue.
//
// TODO: the cost basis figure adds open P/L to the account value, so it is
// not a true cost basis. Switch to Σ quantity*averagePrice once the summary
// consumers agree on the change.
func NormalizeAccount(resp *AccountResponse) (*broker.Result, []error) {
	account := resp.SecuritiesAccount
	result := &broker.Result{
		Provider:  broker.Schwab,
		Currency:  broker.DefaultCurrency,
		Positions: make([]broker.Position, 0, len(account.Positions)),
		Cash:      account.CurrentBalances.CashBalance.Float64(),
		FetchedAt: time.Now(),
	}

	var errs []error
	var openPL float64
	for _, entry := range account.Positions {
		pos, err := NormalizePosition(entry)
		if err != nil {
			errs = append(errs, err)
			result.Skipped++
			continue
		}
		openPL += pos.UnrealizedPnL
		result.Positions = append(result.Positions, pos)
	}

	liquidation := account.CurrentBalances.LiquidationValue.Float64()
	result.Reported = &broker.Totals{
		Balance:   liquidation,
		CostBasis: openPL + liquidation,
	}

	return result, errs
}
