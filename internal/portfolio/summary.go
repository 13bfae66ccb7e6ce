package portfolio

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"unified_portfolio/internal/broker"
)

const notApplicable = "N/A"

// PortfolioData are the headline figures of a summary.
type PortfolioData struct {
	InitialInvestment     float64 `json:"initial_investment"`
	TotalCostBasis        float64 `json:"total_cost_basis"`
	TotalBalance          float64 `json:"total_balance"`
	TotalUnrealizedReturn float64 `json:"total_unrealized_return"`
}

// PieChart is the allocation by position value.
type PieChart struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// Summary is the display form of a portfolio. Each asset row is
// [symbol, crypto quantity, share quantity, value, cost basis, return].
type Summary struct {
	Currency      string        `json:"currency"`
	PortfolioData PortfolioData `json:"portfolio_data"`
	Assets        [][]string    `json:"assets"`
	PieChart      PieChart      `json:"pie_chart"`
}

// BuildSummary renders agg for display. Amounts are formatted in the
// portfolio's base currency.
func BuildSummary(agg *AggregatePortfolio, initialInvestment float64) Summary {
	currency := agg.TotalBalance.Currency
	if currency == "" {
		currency = broker.DefaultCurrency
	}

	s := Summary{
		Currency: currency,
		PortfolioData: PortfolioData{
			InitialInvestment:     round2(initialInvestment),
			TotalCostBasis:        round2(agg.TotalCostBasis.Value),
			TotalBalance:          round2(agg.TotalBalance.Value),
			TotalUnrealizedReturn: round2(agg.TotalUnrealizedPnL),
		},
		Assets:   [][]string{},
		PieChart: PieChart{Labels: []string{}, Values: []float64{}},
	}

	for _, p := range agg.SortedPositions() {
		crypto, shares := notApplicable, notApplicable
		qty := decimal.NewFromFloat(p.Quantity).String()
		if p.Provider == broker.Coinbase {
			crypto = qty + " " + p.Symbol
		} else {
			shares = qty
		}

		s.Assets = append(s.Assets, []string{
			p.Symbol,
			crypto,
			shares,
			FormatMoney(p.CurrentValue, currency),
			FormatMoney(p.CostBasis, currency),
			FormatReturn(p.UnrealizedPnL, p.CostBasis, currency),
		})

		s.PieChart.Labels = append(s.PieChart.Labels, p.Symbol)
		s.PieChart.Values = append(s.PieChart.Values, round2(p.CurrentValue))
	}

	return s
}

// FormatMoney formats amount with the currency's symbol and grouping, e.g.
// "$6,000.00". Unknown currency codes fall back to "6000.00 XYZ".
func FormatMoney(amount float64, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return fmt.Sprintf("%s %s", decimal.NewFromFloat(amount).StringFixed(2), currency)
	}
	minor := decimal.NewFromFloat(amount).Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}

// FormatReturn formats an unrealized return with its percentage of the
// cost basis, e.g. "$1,000.00 (20.00%)" or "-$200.00 (-20.00%)".
func FormatReturn(pnl, costBasis float64, currency string) string {
	pct := decimal.Zero
	if costBasis != 0 {
		pct = decimal.NewFromFloat(pnl).
			Div(decimal.NewFromFloat(costBasis)).
			Mul(decimal.NewFromInt(100)).
			Abs()
	}
	sign := ""
	if pnl < 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s (%s%s%%)", FormatMoney(pnl, currency), sign, pct.StringFixed(2))
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
