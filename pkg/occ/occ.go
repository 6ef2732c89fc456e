// Package occ parses and formats OCC option symbols such as
// AAPL240119C00190000 (root, yymmdd expiry, C/P, strike in thousandths).
package occ

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// suffixLen covers the fixed tail: 6-digit expiry, type letter, 8-digit strike.
const suffixLen = 15

// Contract is a decoded OCC option symbol.
type Contract struct {
	Underlying string
	Expiry     time.Time
	Call       bool
	Strike     float64
}

// String renders the contract back into its OCC symbol.
func (c Contract) String() string {
	return Format(c.Underlying, c.Expiry, c.Call, c.Strike)
}

// Parse decodes an OCC option symbol. Polygon-style "O:" prefixes and the
// space padding of the official 21-character form are both accepted.
func Parse(symbol string) (Contract, error) {
	s := strings.TrimSpace(symbol)
	s = strings.TrimPrefix(s, "O:")
	if len(s) <= suffixLen {
		return Contract{}, fmt.Errorf("occ: symbol %q too short", symbol)
	}

	root := strings.TrimRight(s[:len(s)-suffixLen], " ")
	if root == "" {
		return Contract{}, fmt.Errorf("occ: symbol %q has no underlying root", symbol)
	}

	tail := s[len(s)-suffixLen:]
	expiry, err := time.Parse("060102", tail[:6])
	if err != nil {
		return Contract{}, fmt.Errorf("occ: bad expiry in %q: %w", symbol, err)
	}

	var call bool
	switch tail[6] {
	case 'C':
		call = true
	case 'P':
		call = false
	default:
		return Contract{}, fmt.Errorf("occ: bad contract type %q in %q", string(tail[6]), symbol)
	}

	milli, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("occ: bad strike in %q: %w", symbol, err)
	}

	return Contract{
		Underlying: strings.ToUpper(root),
		Expiry:     expiry,
		Call:       call,
		Strike:     float64(milli) / 1000,
	}, nil
}

// Format builds the unpadded OCC symbol used by market-data APIs.
func Format(underlying string, expiry time.Time, call bool, strike float64) string {
	cp := byte('P')
	if call {
		cp = 'C'
	}
	milli := int64(math.Round(strike * 1000))
	return fmt.Sprintf("%s%s%c%08d", strings.ToUpper(underlying), expiry.Format("060102"), cp, milli)
}
