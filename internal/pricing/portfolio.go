package pricing

import (
	"optionscope/internal/models"
)

// LegSide is the direction of a position leg.
type LegSide int

const (
	Long  LegSide = 1
	Short LegSide = -1
)

// Leg is one position in a multi-leg options structure.
type Leg struct {
	Greeks   models.Greeks
	Quantity int
	Side     LegSide
}

// PortfolioGreeks aggregates leg sensitivities as the signed,
// quantity-weighted sum. First-order aggregation only; cross-greek
// interaction terms are not modeled.
func PortfolioGreeks(legs []Leg) models.Greeks {
	var total models.Greeks
	for _, leg := range legs {
		w := float64(leg.Quantity) * float64(leg.Side)
		total.Delta += leg.Greeks.Delta * w
		total.Gamma += leg.Greeks.Gamma * w
		total.Theta += leg.Greeks.Theta * w
		total.Vega += leg.Greeks.Vega * w
		total.Rho += leg.Greeks.Rho * w
	}
	return total
}
