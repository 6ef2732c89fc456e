// Package utils provides shared formatting helpers for CLI output.
package utils

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// FormatUSD formats a dollar amount with comma grouping and exactly two
// decimal places.
func FormatUSD(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	result := "$" + humanize.FormatFloat("#,###.##", amount)
	if negative {
		result = "-" + result
	}
	return result
}

// FormatSignedUSD formats a dollar change with an explicit sign on gains.
func FormatSignedUSD(change float64) string {
	formatted := FormatUSD(change)
	if change > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatPercent formats a percentage with an explicit sign on gains.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatQuantity formats a share or contract count with comma grouping.
func FormatQuantity(qty int64) string {
	return humanize.Comma(qty)
}

// FormatMillions formats a dollar amount in millions.
func FormatMillions(amount float64) string {
	m := amount / 1e6
	if m < 0 {
		return fmt.Sprintf("-$%.2fM", -m)
	}
	return fmt.Sprintf("$%.2fM", m)
}

// FormatBillions formats a dollar amount in billions.
func FormatBillions(amount float64) string {
	b := amount / 1e9
	if b < 0 {
		return fmt.Sprintf("-$%.2fB", -b)
	}
	return fmt.Sprintf("$%.2fB", b)
}

// FormatCompact formats a dollar amount in compact form (M/B suffixes),
// falling back to plain dollars below a million. Used for market caps.
func FormatCompact(amount float64) string {
	absAmount := math.Abs(amount)

	if absAmount >= 1e9 {
		return FormatBillions(amount)
	} else if absAmount >= 1e6 {
		return FormatMillions(amount)
	}
	return FormatUSD(amount)
}
