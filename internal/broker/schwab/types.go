package schwab

import "unified_portfolio/internal/broker"

// AccountNumber is an entry of GET /trader/v1/accounts/accountNumbers.
type AccountNumber struct {
	AccountNumber string `json:"accountNumber"`
	HashValue     string `json:"hashValue"`
}

// AccountResponse is the payload of GET /trader/v1/accounts/{hash}?fields=positions.
type AccountResponse struct {
	SecuritiesAccount SecuritiesAccount `json:"securitiesAccount"`
}

// SecuritiesAccount holds the positions and balances of one account.
type SecuritiesAccount struct {
	Positions       []PositionEntry `json:"positions"`
	CurrentBalances Balances        `json:"currentBalances"`
}

// Balances are the account level balances.
type Balances struct {
	CashBalance      broker.FlexibleFloat `json:"cashBalance"`
	LiquidationValue broker.FlexibleFloat `json:"liquidationValue"`
}

// PositionEntry is one holding of the account.
type PositionEntry struct {
	Instrument         Instrument           `json:"instrument"`
	LongQuantity       broker.FlexibleFloat `json:"longQuantity"`
	MarketValue        broker.FlexibleFloat `json:"marketValue"`
	AveragePrice       broker.FlexibleFloat `json:"averagePrice"`
	LongOpenProfitLoss broker.FlexibleFloat `json:"longOpenProfitLoss"`
}

// Instrument describes the security held.
type Instrument struct {
	Symbol      string `json:"symbol"`
	AssetType   string `json:"assetType"`
	Type        string `json:"type"`
	Description string `json:"description"`
}
