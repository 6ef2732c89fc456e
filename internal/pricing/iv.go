package pricing

import (
	"math"

	"optionscope/internal/models"
)

// Implied-volatility solver parameters.
const (
	ivSeed       = 0.30
	ivTolerance  = 1e-4
	ivMaxIter    = 100
	ivSigmaFloor = 1e-4
	ivSigmaCap   = 10.0
	ivVegaFloor  = 1e-10
)

// ImpliedVolatility solves price(sigma) = marketPrice by Newton-Raphson,
// seeded at 30% vol. The result is best-effort: when vega collapses or the
// iteration cap is reached, the solver returns its current estimate rather
// than failing, so callers must treat the value as approximate rather than
// guaranteed-converged.
//
// A contract with no time value to invert (marketPrice <= 0 or t <= 0)
// returns 0.
func ImpliedVolatility(marketPrice, s, k, t, r float64, typ models.OptionType) float64 {
	if marketPrice <= 0 || t <= 0 || s <= 0 || k <= 0 {
		return 0
	}

	sigma := ivSeed
	for i := 0; i < ivMaxIter; i++ {
		diff := Price(s, k, t, r, sigma, typ) - marketPrice
		if math.Abs(diff) < ivTolerance {
			return sigma
		}

		vega := rawVega(s, k, t, r, sigma)
		if vega < ivVegaFloor {
			// Flat price surface; no gradient left to follow.
			return sigma
		}

		sigma -= diff / vega
		if sigma < ivSigmaFloor {
			sigma = ivSigmaFloor
		} else if sigma > ivSigmaCap {
			sigma = ivSigmaCap
		}
	}

	return sigma
}
