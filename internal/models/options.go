package models

import (
	"sort"
	"time"
)

// RawOptionContract is a single option contract as reported by a provider.
// It carries market data only; greeks are always derived by the pricing
// engine during enrichment, never trusted from the provider.
type RawOptionContract struct {
	Symbol            string     `json:"symbol"`
	Underlying        string     `json:"underlying"`
	Strike            float64    `json:"strike"`
	Expiry            time.Time  `json:"expiry"`
	Type              OptionType `json:"type"`
	Bid               float64    `json:"bid"`
	Ask               float64    `json:"ask"`
	Last              float64    `json:"last"`
	Volume            int64      `json:"volume"`
	OpenInterest      int64      `json:"open_interest"`
	ImpliedVolatility float64    `json:"implied_volatility"`
}

// OptionsChain is a raw option chain for one underlying, with calls and puts
// ordered by strike.
type OptionsChain struct {
	Symbol          string              `json:"symbol"`
	UnderlyingPrice float64             `json:"underlying_price"`
	Calls           []RawOptionContract `json:"calls"`
	Puts            []RawOptionContract `json:"puts"`
	Expirations     []time.Time         `json:"expirations"`
	Provenance      Provenance          `json:"provenance"`
}

// SortContracts orders calls and puts by ascending strike and the expiration
// list chronologically. Adapters call this after mapping so chain ordering is
// uniform regardless of provider.
func (c *OptionsChain) SortContracts() {
	sort.Slice(c.Calls, func(i, j int) bool { return c.Calls[i].Strike < c.Calls[j].Strike })
	sort.Slice(c.Puts, func(i, j int) bool { return c.Puts[i].Strike < c.Puts[j].Strike })
	sort.Slice(c.Expirations, func(i, j int) bool { return c.Expirations[i].Before(c.Expirations[j]) })
}

// EnrichedOptionContract is a raw contract plus derived analytics.
type EnrichedOptionContract struct {
	RawOptionContract

	Greeks         Greeks    `json:"greeks"`
	Moneyness      float64   `json:"moneyness"`
	IntrinsicValue float64   `json:"intrinsic_value"`
	TimeValue      float64   `json:"time_value"`
	Breakeven      float64   `json:"breakeven"`
	ProbabilityOTM float64   `json:"probability_otm"`
	Source         string    `json:"source"`
	ComputedAt     time.Time `json:"computed_at"`
}

// EnrichedOptionsChain is an option chain whose contracts carry derived
// analytics. It is recomputed on every enrichment call and never cached;
// its raw inputs already are.
type EnrichedOptionsChain struct {
	Symbol          string                   `json:"symbol"`
	UnderlyingPrice float64                  `json:"underlying_price"`
	Calls           []EnrichedOptionContract `json:"calls"`
	Puts            []EnrichedOptionContract `json:"puts"`
	Expirations     []time.Time              `json:"expirations"`
	Provenance      Provenance               `json:"provenance"`
}
