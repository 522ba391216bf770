package models

import "encoding/json"

// Holding is one position of a brokerage portfolio as rendered into the advice
// prompt. Numeric fields stay raw so whatever the caller sent is echoed as-is.
type Holding struct {
	Symbol          string      `json:"symbol"`
	Name            string      `json:"name"`
	Shares          json.Number `json:"shares"`
	AvgCost         json.Number `json:"avgCost,omitempty"`
	CurrentPrice    json.Number `json:"currentPrice"`
	MarketValue     json.Number `json:"marketValue"`
	GainLoss        json.Number `json:"gainLoss,omitempty"`
	GainLossPercent json.Number `json:"gainLossPercent"`
}

// Portfolio accepts both the brokerage shape (holdings, accountValue,
// cashBalance) and the manual shape (value).
type Portfolio struct {
	Holdings     []Holding   `json:"holdings"`
	AccountValue json.Number `json:"accountValue"`
	CashBalance  json.Number `json:"cashBalance"`
	Value        json.Number `json:"value"`
	Risk         string      `json:"risk"`
}

// Transaction is a single statement line supplied back by the caller.
type Transaction struct {
	Date        string      `json:"date"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Type        string      `json:"type"`
	Category    string      `json:"category"`
}

type BrokerageRequest struct {
	APIKey string `json:"apiKey"`
}

type TransactionTextRequest struct {
	Text string `json:"text"`
}

// AdviceRequest is the body of the analyze endpoint. Finances is relayed as
// compact JSON, so it is kept undecoded.
type AdviceRequest struct {
	Finances     json.RawMessage `json:"finances"`
	Portfolio    *Portfolio      `json:"portfolio"`
	News         []string        `json:"news"`
	Transactions []Transaction   `json:"transactions"`
}

type AdviceResponse struct {
	Advice string `json:"advice"`
}
