package cli

import (
	"fmt"
	"math"
	"time"

	"optionscope/internal/models"
	"optionscope/pkg/utils"
)

// easternTime is the exchange timezone used when rendering timestamps.
var easternTime *time.Location

func init() {
	var err error
	easternTime, err = time.LoadLocation("America/New_York")
	if err != nil {
		easternTime = time.FixedZone("ET", -5*60*60)
	}
}

// FormatPrice formats a price with two decimals, or four for sub-$10
// contracts where the extra precision matters.
func FormatPrice(price float64) string {
	if price >= 10 {
		return fmt.Sprintf("%.2f", price)
	}
	return fmt.Sprintf("%.4f", price)
}

// FormatChange formats a price change with its percentage.
func FormatChange(change, changePct float64) string {
	sign := ""
	if change > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f (%s%.2f%%)", sign, change, sign, changePct)
}

// FormatVolume formats volume in compact form.
func FormatVolume(volume int64) string {
	if volume >= 1000000000 {
		return fmt.Sprintf("%.2fB", float64(volume)/1000000000)
	} else if volume >= 1000000 {
		return fmt.Sprintf("%.2fM", float64(volume)/1000000)
	} else if volume >= 1000 {
		return fmt.Sprintf("%.2fK", float64(volume)/1000)
	}
	return fmt.Sprintf("%d", volume)
}

// FormatOI formats open interest.
func FormatOI(oi int64) string {
	return FormatVolume(oi)
}

// FormatIV formats implied volatility as a percentage.
func FormatIV(iv float64) string {
	return fmt.Sprintf("%.2f%%", iv*100)
}

// FormatGreeks formats the full greek set on one line.
func FormatGreeks(g models.Greeks) string {
	return fmt.Sprintf("Δ: %.4f  Γ: %.4f  Θ: %.4f  ν: %.4f  ρ: %.4f",
		g.Delta, g.Gamma, g.Theta, g.Vega, g.Rho)
}

// FormatBidAsk formats a bid/ask spread.
func FormatBidAsk(bid, ask float64) string {
	if bid <= 0 {
		return fmt.Sprintf("Bid: %.2f  Ask: %.2f", bid, ask)
	}
	spread := ask - bid
	spreadPct := (spread / bid) * 100
	return fmt.Sprintf("Bid: %.2f  Ask: %.2f  Spread: %.2f (%.2f%%)", bid, ask, spread, spreadPct)
}

// FormatMarketCap formats a market capitalization compactly.
func FormatMarketCap(value float64) string {
	return utils.FormatCompact(value)
}

// FormatExpiry formats an expiration as a calendar date. Expirations are
// stored at UTC midnight, so no timezone conversion is applied.
func FormatExpiry(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FormatDTE formats days to expiration relative to now.
func FormatDTE(expiry time.Time) string {
	days := int(math.Ceil(time.Until(expiry).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return fmt.Sprintf("%dd", days)
}

// FormatYears formats a year fraction as a day count.
func FormatYears(t float64) string {
	return fmt.Sprintf("%.0fd", t*365)
}

// FormatTime formats a timestamp as exchange-local wall clock time.
func FormatTime(t time.Time) string {
	return t.In(easternTime).Format("15:04:05 MST")
}

// FormatDateTime formats a timestamp as an exchange-local date and time.
func FormatDateTime(t time.Time) string {
	return t.In(easternTime).Format("02-Jan-2006 15:04:05 MST")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
