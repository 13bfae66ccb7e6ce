// Package broker defines the provider-neutral portfolio model shared by the
// Coinbase and Schwab integrations.
package broker

import (
	"context"
	"time"
)

// Provider names.
const (
	Coinbase = "coinbase"
	Schwab   = "schwab"
)

// DefaultCurrency is assumed when a provider does not report one.
const DefaultCurrency = "USD"

// Position is a normalized holding.
type Position struct {
	Provider      string  `json:"provider"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name,omitempty"`
	Quantity      float64 `json:"quantity"`
	CurrentValue  float64 `json:"current_value"`
	CostAverage   float64 `json:"cost_average"`
	CostBasis     float64 `json:"cost_basis"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	AssetClass    string  `json:"asset_class"`
	IsCash        bool    `json:"is_cash"`
	Currency      string  `json:"currency"`
}

// Totals are balance figures reported by a provider rather than derived
// from its positions.
type Totals struct {
	Balance   float64 `json:"balance"`
	CostBasis float64 `json:"cost_basis"`
}

// Result is one provider's normalized fetch cycle output.
type Result struct {
	Provider  string     `json:"provider"`
	Currency  string     `json:"currency"`
	Positions []Position `json:"positions"`
	Cash      float64    `json:"cash"`
	// Reported, when set, replaces the totals derived from Positions.
	Reported  *Totals   `json:"reported,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	// Skipped counts entries dropped as malformed.
	Skipped int `json:"skipped"`
}

// Balance returns the provider's total balance.
func (r *Result) Balance() float64 {
	if r.Reported != nil {
		return r.Reported.Balance
	}
	total := r.Cash
	for _, p := range r.Positions {
		total += p.CurrentValue
	}
	return total
}

// CostBasis returns the provider's total cost basis.
func (r *Result) CostBasis() float64 {
	if r.Reported != nil {
		return r.Reported.CostBasis
	}
	var total float64
	for _, p := range r.Positions {
		total += p.CostBasis
	}
	return total
}

// UnrealizedPnL returns the sum of position unrealized P/L.
func (r *Result) UnrealizedPnL() float64 {
	var total float64
	for _, p := range r.Positions {
		total += p.UnrealizedPnL
	}
	return total
}

// Provider fetches and normalizes one brokerage's holdings.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// FetchPortfolio runs one fetch cycle against the provider.
	FetchPortfolio(ctx context.Context) (*Result, error)
}
