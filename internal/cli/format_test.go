package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"optionscope/internal/models"
)

// FormatVolume must use B above a billion, M above a million, K above a
// thousand, and plain digits below that.
func TestProperty_VolumeUnits(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatVolume uses correct units", prop.ForAll(
		func(volume int64) bool {
			formatted := FormatVolume(volume)

			switch {
			case volume >= 1000000000:
				if !strings.HasSuffix(formatted, "B") {
					t.Logf("Expected B for %d, got %s", volume, formatted)
					return false
				}
			case volume >= 1000000:
				if !strings.HasSuffix(formatted, "M") {
					t.Logf("Expected M for %d, got %s", volume, formatted)
					return false
				}
			case volume >= 1000:
				if !strings.HasSuffix(formatted, "K") {
					t.Logf("Expected K for %d, got %s", volume, formatted)
					return false
				}
			default:
				if strings.ContainsAny(formatted, "BMK.") {
					t.Logf("Expected plain digits for %d, got %s", volume, formatted)
					return false
				}
			}

			return true
		},
		gen.Int64Range(0, 1e12),
	))

	properties.TestingRun(t)
}

func TestFormatVolumeExamples(t *testing.T) {
	testCases := []struct {
		volume   int64
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.50K"},
		{52300000, "52.30M"},
		{2100000000, "2.10B"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if result := FormatVolume(tc.volume); result != tc.expected {
				t.Errorf("FormatVolume(%d) = %s, want %s", tc.volume, result, tc.expected)
			}
		})
	}
}

func TestFormatPrice(t *testing.T) {
	testCases := []struct {
		price    float64
		expected string
	}{
		{187.33, "187.33"},
		{10, "10.00"},
		{9.999, "9.9990"},
		{0.08, "0.0800"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if result := FormatPrice(tc.price); result != tc.expected {
				t.Errorf("FormatPrice(%f) = %s, want %s", tc.price, result, tc.expected)
			}
		})
	}
}

func TestFormatChange(t *testing.T) {
	testCases := []struct {
		change   float64
		pct      float64
		expected string
	}{
		{1.52, 0.82, "+1.52 (+0.82%)"},
		{-2.10, -1.11, "-2.10 (-1.11%)"},
		{0, 0, "0.00 (0.00%)"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if result := FormatChange(tc.change, tc.pct); result != tc.expected {
				t.Errorf("FormatChange(%f, %f) = %s, want %s", tc.change, tc.pct, result, tc.expected)
			}
		})
	}
}

func TestFormatIV(t *testing.T) {
	if got := FormatIV(0.2815); got != "28.15%" {
		t.Errorf("FormatIV(0.2815) = %s, want 28.15%%", got)
	}
	if got := FormatIV(0); got != "0.00%" {
		t.Errorf("FormatIV(0) = %s, want 0.00%%", got)
	}
}

func TestFormatGreeks(t *testing.T) {
	g := models.Greeks{Delta: 0.5987, Gamma: 0.0198, Theta: -0.0176, Vega: 0.3752, Rho: 0.5323}
	got := FormatGreeks(g)
	want := "Δ: 0.5987  Γ: 0.0198  Θ: -0.0176  ν: 0.3752  ρ: 0.5323"
	if got != want {
		t.Errorf("FormatGreeks = %q, want %q", got, want)
	}
}

func TestFormatBidAsk(t *testing.T) {
	got := FormatBidAsk(5.00, 5.20)
	want := "Bid: 5.00  Ask: 5.20  Spread: 0.20 (4.00%)"
	if got != want {
		t.Errorf("FormatBidAsk = %q, want %q", got, want)
	}

	// Zero bid must not divide by zero.
	got = FormatBidAsk(0, 0.05)
	want = "Bid: 0.00  Ask: 0.05"
	if got != want {
		t.Errorf("FormatBidAsk zero bid = %q, want %q", got, want)
	}
}

func TestFormatExpiry(t *testing.T) {
	expiry := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	if got := FormatExpiry(expiry); got != "2024-06-21" {
		t.Errorf("FormatExpiry = %s, want 2024-06-21", got)
	}

	// Late-day instants must not roll the calendar date.
	lateDay := time.Date(2024, 6, 21, 23, 0, 0, 0, time.UTC)
	if got := FormatExpiry(lateDay); got != "2024-06-21" {
		t.Errorf("FormatExpiry late day = %s, want 2024-06-21", got)
	}
}

func TestFormatDTE(t *testing.T) {
	if got := FormatDTE(time.Now().Add(49 * time.Hour)); got != "3d" {
		t.Errorf("FormatDTE(+49h) = %s, want 3d", got)
	}
	if got := FormatDTE(time.Now().Add(-time.Hour)); got != "0d" {
		t.Errorf("FormatDTE(past) = %s, want 0d", got)
	}
}

func TestFormatDuration(t *testing.T) {
	testCases := []struct {
		d        time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{150 * time.Minute, "2h 30m"},
		{50 * time.Hour, "2d 2h"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if result := FormatDuration(tc.d); result != tc.expected {
				t.Errorf("FormatDuration(%v) = %s, want %s", tc.d, result, tc.expected)
			}
		})
	}
}
