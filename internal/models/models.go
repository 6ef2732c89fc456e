// Package models provides the market-data domain model shared by the engine.
package models

import (
	"time"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// IsValid reports whether the option type is one of the two known kinds.
func (t OptionType) IsValid() bool {
	return t == Call || t == Put
}

// Quote represents a normalized market quote for a single symbol.
// Every provider adapter maps its own response shape into this struct.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PrevClose     float64   `json:"prev_close"`
	Timestamp     time.Time `json:"timestamp"`
	MarketCap     float64   `json:"market_cap,omitempty"`
	Sector        string    `json:"sector,omitempty"`

	// Provenance, filled in by the aggregator.
	Source string `json:"source"`
	Cached bool   `json:"cached"`
}

// Greeks holds the five standard option sensitivities.
// Theta is per calendar day, vega per volatility point (1%), rho per 1% rate move.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// Provenance records where chain data came from and when.
type Provenance struct {
	Source    string    `json:"source"`
	Cached    bool      `json:"cached"`
	FetchedAt time.Time `json:"fetched_at"`
}
