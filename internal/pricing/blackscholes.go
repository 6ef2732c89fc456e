// Package pricing implements the Black-Scholes option pricing model:
// theoretical price, the five greeks in trading-desk units, and a
// Newton-Raphson implied-volatility solver. All functions are pure;
// there is no I/O and no shared state.
package pricing

import (
	"math"

	"optionscope/internal/models"
)

// erfApprox approximates the error function using Abramowitz & Stegun
// formula 7.1.26. Maximum absolute error is 1.5e-7, which is enough for
// pricing work and keeps the engine free of external math dependencies.
func erfApprox(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}

	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t+a3)*t+a2)*t+a1)*t)*math.Exp(-x*x)
	return sign * y
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + erfApprox(x/math.Sqrt2))
}

// normPDF is the standard normal probability density function.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2.0*math.Pi)
}

// d1d2 computes the two Black-Scholes intermediates. Callers must ensure
// s, k, sigma and t are strictly positive.
func d1d2(s, k, t, r, sigma float64) (float64, float64) {
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)
	return d1, d2
}

// degenerate reports whether the inputs fall outside the region where the
// closed-form formulas are defined. An expired option (t <= 0) is the usual
// case and is a boundary condition, not an error.
func degenerate(s, k, t, sigma float64) bool {
	return t <= 0 || s <= 0 || k <= 0 || sigma <= 0
}

// Intrinsic returns the exercise value of an option.
func Intrinsic(s, k float64, typ models.OptionType) float64 {
	if typ == models.Call {
		return math.Max(s-k, 0)
	}
	return math.Max(k-s, 0)
}

// Price returns the Black-Scholes theoretical value. At or past expiry
// (t <= 0) it returns intrinsic value, the exercise boundary condition.
func Price(s, k, t, r, sigma float64, typ models.OptionType) float64 {
	if degenerate(s, k, t, sigma) {
		return Intrinsic(s, k, typ)
	}

	d1, d2 := d1d2(s, k, t, r, sigma)
	if typ == models.Call {
		return s*normCDF(d1) - k*math.Exp(-r*t)*normCDF(d2)
	}
	return k*math.Exp(-r*t)*normCDF(-d2) - s*normCDF(-d1)
}

// Delta returns the sensitivity of price to the underlying.
// Calls fall in [0, 1], puts in [-1, 0]. At expiry delta collapses to
// 0 or +/-1 depending on moneyness.
func Delta(s, k, t, r, sigma float64, typ models.OptionType) float64 {
	if degenerate(s, k, t, sigma) {
		return expiryDelta(s, k, typ)
	}

	d1, _ := d1d2(s, k, t, r, sigma)
	if typ == models.Call {
		return normCDF(d1)
	}
	return normCDF(d1) - 1
}

func expiryDelta(s, k float64, typ models.OptionType) float64 {
	if typ == models.Call {
		if s > k {
			return 1
		}
		return 0
	}
	if s < k {
		return -1
	}
	return 0
}

// Gamma returns the rate of change of delta per unit move in the
// underlying. Identical for calls and puts.
func Gamma(s, k, t, r, sigma float64, typ models.OptionType) float64 {
	if degenerate(s, k, t, sigma) {
		return 0
	}

	d1, _ := d1d2(s, k, t, r, sigma)
	return normPDF(d1) / (s * sigma * math.Sqrt(t))
}

// Theta returns time decay per calendar day (the annualized derivative
// divided by 365).
func Theta(s, k, t, r, sigma float64, typ models.OptionType) float64 {
	if degenerate(s, k, t, sigma) {
		return 0
	}

	d1, d2 := d1d2(s, k, t, r, sigma)
	decay := -(s * normPDF(d1) * sigma) / (2 * math.Sqrt(t))
	if typ == models.Call {
		return (decay - r*k*math.Exp(-r*t)*normCDF(d2)) / 365
	}
	return (decay + r*k*math.Exp(-r*t)*normCDF(-d2)) / 365
}

// Vega returns the sensitivity of price to a one-point (1%) change in
// volatility. Identical for calls and puts, never negative.
func Vega(s, k, t, r, sigma float64, typ models.OptionType) float64 {
	if degenerate(s, k, t, sigma) {
		return 0
	}
	return rawVega(s, k, t, r, sigma) / 100
}

// rawVega is the unscaled dPrice/dSigma, used directly by the IV solver's
// Newton step.
func rawVega(s, k, t, r, sigma float64) float64 {
	d1, _ := d1d2(s, k, t, r, sigma)
	return s * normPDF(d1) * math.Sqrt(t)
}

// Rho returns the sensitivity of price to a one-percentage-point change
// in the risk-free rate (the raw derivative divided by 100).
func Rho(s, k, t, r, sigma float64, typ models.OptionType) float64 {
	if degenerate(s, k, t, sigma) {
		return 0
	}

	_, d2 := d1d2(s, k, t, r, sigma)
	if typ == models.Call {
		return k * t * math.Exp(-r*t) * normCDF(d2) / 100
	}
	return -k * t * math.Exp(-r*t) * normCDF(-d2) / 100
}

// ComputeGreeks returns all five sensitivities in one call.
func ComputeGreeks(s, k, t, r, sigma float64, typ models.OptionType) models.Greeks {
	return models.Greeks{
		Delta: Delta(s, k, t, r, sigma, typ),
		Gamma: Gamma(s, k, t, r, sigma, typ),
		Theta: Theta(s, k, t, r, sigma, typ),
		Vega:  Vega(s, k, t, r, sigma, typ),
		Rho:   Rho(s, k, t, r, sigma, typ),
	}
}
