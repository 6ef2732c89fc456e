// Package enrich derives per-contract analytics for raw option chains.
//
// Providers hand back market data only (bid, ask, last, volume, IV when they
// have one). Everything else a chain view needs, greeks, intrinsic and time
// value, moneyness, breakeven, is computed here through the pricing engine.
package enrich

import (
	"context"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"

	"optionscope/internal/models"
	"optionscope/internal/pricing"
)

const (
	// DefaultRiskFreeRate approximates the short-term treasury yield.
	DefaultRiskFreeRate = 0.05

	// DefaultIV stands in when a provider reports no implied volatility.
	DefaultIV = 0.30

	// DefaultMaxConcurrent bounds the enrichment fan-out.
	DefaultMaxConcurrent = 8

	hoursPerYear = 24 * 365
)

// Enricher computes derived analytics for option contracts.
type Enricher struct {
	RiskFreeRate  float64
	DefaultIV     float64
	MaxConcurrent int

	now func() time.Time
}

// New creates an Enricher, substituting defaults for zero fields.
func New(riskFreeRate, defaultIV float64, maxConcurrent int) *Enricher {
	if riskFreeRate <= 0 {
		riskFreeRate = DefaultRiskFreeRate
	}
	if defaultIV <= 0 {
		defaultIV = DefaultIV
	}
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Enricher{
		RiskFreeRate:  riskFreeRate,
		DefaultIV:     defaultIV,
		MaxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// EnrichChain computes analytics for every contract in the chain. Contracts
// are independent, so the work fans out across a bounded goroutine pool;
// strike ordering within calls and puts is preserved. The enriched chain is
// recomputed on every call and never cached.
func (e *Enricher) EnrichChain(ctx context.Context, chain *models.OptionsChain) (*models.EnrichedOptionsChain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.now()
	out := &models.EnrichedOptionsChain{
		Symbol:          chain.Symbol,
		UnderlyingPrice: chain.UnderlyingPrice,
		Calls:           make([]models.EnrichedOptionContract, len(chain.Calls)),
		Puts:            make([]models.EnrichedOptionContract, len(chain.Puts)),
		Expirations:     append([]time.Time(nil), chain.Expirations...),
		Provenance:      chain.Provenance,
	}

	source := chain.Provenance.Source

	p := pool.New().WithMaxGoroutines(e.MaxConcurrent)
	for i := range chain.Calls {
		c := chain.Calls[i]
		slot := &out.Calls[i]
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			*slot = e.EnrichContract(c, chain.UnderlyingPrice, now)
			slot.Source = source
		})
	}
	for i := range chain.Puts {
		c := chain.Puts[i]
		slot := &out.Puts[i]
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			*slot = e.EnrichContract(c, chain.UnderlyingPrice, now)
			slot.Source = source
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EnrichContract computes analytics for a single contract against the given
// spot price. An expiry in the past clamps time-to-expiry to zero rather
// than failing, so freshly expired contracts price at intrinsic.
func (e *Enricher) EnrichContract(c models.RawOptionContract, spot float64, now time.Time) models.EnrichedOptionContract {
	t := c.Expiry.Sub(now).Hours() / hoursPerYear
	if t < 0 {
		t = 0
	}

	sigma := c.ImpliedVolatility
	if sigma <= 0 {
		sigma = e.DefaultIV
	}

	greeks := pricing.ComputeGreeks(spot, c.Strike, t, e.RiskFreeRate, sigma, c.Type)
	intrinsic := pricing.Intrinsic(spot, c.Strike, c.Type)

	moneyness := 0.0
	if c.Strike > 0 {
		moneyness = spot / c.Strike
	}

	breakeven := c.Strike + c.Last
	if c.Type == models.Put {
		breakeven = c.Strike - c.Last
	}

	return models.EnrichedOptionContract{
		RawOptionContract: c,
		Greeks:            greeks,
		Moneyness:         moneyness,
		IntrinsicValue:    intrinsic,
		TimeValue:         c.Last - intrinsic,
		Breakeven:         breakeven,
		ProbabilityOTM:    clamp01(1 - math.Abs(greeks.Delta)),
		ComputedAt:        now,
	}
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
