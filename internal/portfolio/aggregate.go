// Package portfolio combines provider results into one portfolio view.
package portfolio

import (
	"sort"
	"strings"
	"time"

	"unified_portfolio/internal/broker"
)

// Amount is a value in a currency.
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// PositionKey identifies a position across providers, so the same symbol
// held at two providers never collides.
type PositionKey struct {
	Provider string
	Symbol   string
}

// String returns "provider:symbol".
func (k PositionKey) String() string {
	return k.Provider + ":" + k.Symbol
}

// MarshalText lets PositionKey be used as a JSON object key.
func (k PositionKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "provider:symbol".
func (k *PositionKey) UnmarshalText(b []byte) error {
	provider, symbol, _ := strings.Cut(string(b), ":")
	k.Provider, k.Symbol = provider, symbol
	return nil
}

// Subtotal is one provider's share of the portfolio.
type Subtotal struct {
	Provider      string    `json:"provider"`
	Currency      string    `json:"currency"`
	Balance       float64   `json:"balance"`
	CostBasis     float64   `json:"cost_basis"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Cash          float64   `json:"cash"`
	Positions     int       `json:"positions"`
	Skipped       int       `json:"skipped"`
	FetchedAt     time.Time `json:"fetched_at"`
	// Included is false when the provider's currency differs from the
	// base currency and its figures are left out of the totals.
	Included bool `json:"included"`
}

// AggregatePortfolio is the unified view over every provider's latest result.
type AggregatePortfolio struct {
	TotalBalance       Amount                          `json:"total_balance"`
	TotalCostBasis     Amount                          `json:"total_cost_basis"`
	TotalUnrealizedPnL float64                         `json:"total_unrealized_pnl"`
	Cash               float64                         `json:"cash"`
	Positions          map[PositionKey]broker.Position `json:"positions"`
	Subtotals          []Subtotal                      `json:"subtotals"`
	Excluded           []string                        `json:"excluded,omitempty"`
	UpdatedAt          time.Time                       `json:"updated_at"`
}

// Empty returns a portfolio with no providers.
func Empty(baseCurrency string) *AggregatePortfolio {
	return Aggregate(nil, baseCurrency)
}

// Aggregate builds the portfolio from scratch. Results are ordered by
// provider first so repeated calls produce identical totals. Providers
// reporting in a currency other than baseCurrency keep their subtotal but
// are listed in Excluded and left out of the totals.
func Aggregate(results []*broker.Result, baseCurrency string) *AggregatePortfolio {
	if baseCurrency == "" {
		baseCurrency = broker.DefaultCurrency
	}

	ordered := make([]*broker.Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Provider < ordered[j].Provider
	})

	agg := &AggregatePortfolio{
		TotalBalance:   Amount{Currency: baseCurrency},
		TotalCostBasis: Amount{Currency: baseCurrency},
		Positions:      make(map[PositionKey]broker.Position),
		Subtotals:      make([]Subtotal, 0, len(ordered)),
	}

	for _, r := range ordered {
		currency := r.Currency
		if currency == "" {
			currency = broker.DefaultCurrency
		}

		sub := Subtotal{
			Provider:      r.Provider,
			Currency:      currency,
			Balance:       r.Balance(),
			CostBasis:     r.CostBasis(),
			UnrealizedPnL: r.UnrealizedPnL(),
			Cash:          r.Cash,
			Positions:     len(r.Positions),
			Skipped:       r.Skipped,
			FetchedAt:     r.FetchedAt,
			Included:      strings.EqualFold(currency, baseCurrency),
		}
		agg.Subtotals = append(agg.Subtotals, sub)

		for _, p := range r.Positions {
			key := PositionKey{Provider: r.Provider, Symbol: p.Symbol}
			if prev, ok := agg.Positions[key]; ok {
				p = merge(prev, p)
			}
			agg.Positions[key] = p
		}

		if r.FetchedAt.After(agg.UpdatedAt) {
			agg.UpdatedAt = r.FetchedAt
		}

		if !sub.Included {
			agg.Excluded = append(agg.Excluded, r.Provider)
			continue
		}
		agg.TotalBalance.Value += sub.Balance
		agg.TotalCostBasis.Value += sub.CostBasis
		agg.TotalUnrealizedPnL += sub.UnrealizedPnL
		agg.Cash += sub.Cash
	}

	return agg
}

// merge folds a repeated symbol from one provider into a single position.
func merge(a, b broker.Position) broker.Position {
	a.Quantity += b.Quantity
	a.CurrentValue += b.CurrentValue
	a.CostBasis += b.CostBasis
	a.UnrealizedPnL += b.UnrealizedPnL
	if a.Quantity != 0 {
		a.CostAverage = a.CostBasis / a.Quantity
	}
	return a
}

// SortedPositions returns the positions ordered by provider, then symbol.
func (a *AggregatePortfolio) SortedPositions() []broker.Position {
	out := make([]broker.Position, 0, len(a.Positions))
	for _, p := range a.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Subtotal returns the subtotal of a provider.
func (a *AggregatePortfolio) Subtotal(provider string) (Subtotal, bool) {
	for _, s := range a.Subtotals {
		if s.Provider == provider {
			return s, true
		}
	}
	return Subtotal{}, false
}
