package coinbase

import "unified_portfolio/internal/broker"

// PortfoliosResponse is the payload of GET /api/v3/brokerage/portfolios.
type PortfoliosResponse struct {
	Portfolios []Portfolio `json:"portfolios"`
}

// Portfolio is an entry of the portfolio list.
type Portfolio struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// BreakdownResponse is the payload of GET /api/v3/brokerage/portfolios/{uuid}.
type BreakdownResponse struct {
	Breakdown Breakdown `json:"breakdown"`
}

// Breakdown holds a portfolio's balances and spot positions.
type Breakdown struct {
	Portfolio         Portfolio         `json:"portfolio"`
	PortfolioBalances PortfolioBalances `json:"portfolio_balances"`
	SpotPositions     []SpotPosition    `json:"spot_positions"`
}

// PortfolioBalances are the balances reported for the whole portfolio.
type PortfolioBalances struct {
	TotalBalance Amount `json:"total_balance"`
}

// Amount is a value with its currency.
type Amount struct {
	Value    broker.FlexibleFloat `json:"value"`
	Currency string               `json:"currency"`
}

// SpotPosition is a non-margin holding. Numeric fields arrive either as
// numbers or as strings.
type SpotPosition struct {
	Asset              string               `json:"asset"`
	TotalBalanceFiat   broker.FlexibleFloat `json:"total_balance_fiat"`
	TotalBalanceCrypto broker.FlexibleFloat `json:"total_balance_crypto"`
	CostBasis          Amount               `json:"cost_basis"`
	AverageEntryPrice  Amount               `json:"average_entry_price"`
	IsCash             bool                 `json:"is_cash"`
}
