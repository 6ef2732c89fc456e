package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"optionscope/internal/models"
	"optionscope/pkg/utils"
)

func newChainCmd(app *App) *cobra.Command {
	var expiryStr string
	var callsOnly, putsOnly bool
	var strikes int

	cmd := &cobra.Command{
		Use:   "chain SYMBOL",
		Short: "Fetch an options chain with computed analytics",
		Long: `Fetch the options chain for a symbol, enriched with greeks, intrinsic
and time value, breakeven, and OTM probability.

Native chain providers are tried first; when all fail, the keyless raw
chain is fetched and greeks are computed locally with Black-Scholes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			var expiry time.Time
			if expiryStr != "" {
				var err error
				expiry, err = time.Parse("2006-01-02", expiryStr)
				if err != nil {
					return fmt.Errorf("invalid --expiry %q: use YYYY-MM-DD", expiryStr)
				}
			}

			chain, err := app.Aggregator.GetOptionsChain(cmd.Context(), args[0], expiry, useCache(cmd))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(chain)
			}
			printChain(output, chain, callsOnly, putsOnly, strikes)
			return nil
		},
	}

	cmd.Flags().StringVar(&expiryStr, "expiry", "", "expiration date (YYYY-MM-DD, default: front expiry)")
	cmd.Flags().BoolVar(&callsOnly, "calls", false, "show calls only")
	cmd.Flags().BoolVar(&putsOnly, "puts", false, "show puts only")
	cmd.Flags().IntVar(&strikes, "strikes", 0, "limit to N strikes nearest the money (0 = all)")

	return cmd
}

func printChain(output *Output, chain *models.EnrichedOptionsChain, callsOnly, putsOnly bool, strikes int) {
	var expiry time.Time
	if len(chain.Calls) > 0 {
		expiry = chain.Calls[0].Expiry
	} else if len(chain.Puts) > 0 {
		expiry = chain.Puts[0].Expiry
	}

	output.Printf("%s options", output.BoldText(chain.Symbol))
	if !expiry.IsZero() {
		output.Printf("  exp %s (%s)", FormatExpiry(expiry), FormatDTE(expiry))
	}
	output.Printf("  spot %s  %s%s\n",
		utils.FormatUSD(chain.UnderlyingPrice),
		output.SourceTag(chain.Provenance.Source),
		output.CacheTag(chain.Provenance.Cached),
	)
	output.Println()

	if !putsOnly {
		printContracts(output, "CALLS", nearestStrikes(chain.Calls, chain.UnderlyingPrice, strikes))
	}
	if !callsOnly {
		if !putsOnly {
			output.Println()
		}
		printContracts(output, "PUTS", nearestStrikes(chain.Puts, chain.UnderlyingPrice, strikes))
	}

	if len(chain.Expirations) > 1 {
		output.Println()
		printExpirationsLine(output, chain.Expirations)
	}
}

func printContracts(output *Output, title string, contracts []models.EnrichedOptionContract) {
	output.Bold(title)
	if len(contracts) == 0 {
		output.Dim("  none")
		return
	}

	table := NewTable(output, "STRIKE", "LAST", "BID", "ASK", "VOLUME", "OI", "IV", "DELTA", "THETA", "B/E")
	for i := range contracts {
		c := &contracts[i]

		strike := FormatPrice(c.Strike)
		if c.IntrinsicValue > 0 {
			strike = output.Cyan(strike)
		}

		iv := "-"
		if c.ImpliedVolatility > 0 {
			iv = FormatIV(c.ImpliedVolatility)
		}

		table.AddRow(
			strike,
			FormatPrice(c.Last),
			FormatPrice(c.Bid),
			FormatPrice(c.Ask),
			FormatVolume(c.Volume),
			FormatOI(c.OpenInterest),
			iv,
			fmt.Sprintf("%.4f", c.Greeks.Delta),
			fmt.Sprintf("%.4f", c.Greeks.Theta),
			FormatPrice(c.Breakeven),
		)
	}
	table.Render()
}

// nearestStrikes returns the n contracts closest to spot, preserving strike
// order. n <= 0 returns the full slice.
func nearestStrikes(contracts []models.EnrichedOptionContract, spot float64, n int) []models.EnrichedOptionContract {
	if n <= 0 || len(contracts) <= n {
		return contracts
	}

	best := 0
	for i := range contracts {
		if math.Abs(contracts[i].Strike-spot) < math.Abs(contracts[best].Strike-spot) {
			best = i
		}
	}

	lo, hi := best, best+1
	for hi-lo < n {
		switch {
		case lo == 0:
			hi++
		case hi == len(contracts):
			lo--
		case math.Abs(contracts[lo-1].Strike-spot) <= math.Abs(contracts[hi].Strike-spot):
			lo--
		default:
			hi++
		}
	}
	return contracts[lo:hi]
}

func printExpirationsLine(output *Output, expirations []time.Time) {
	const shown = 8
	dates := make([]string, 0, len(expirations))
	for _, e := range expirations {
		dates = append(dates, FormatExpiry(e))
	}
	if len(dates) > shown {
		output.Dim("Expirations: %s, +%d more", strings.Join(dates[:shown], ", "), len(dates)-shown)
		return
	}
	output.Dim("Expirations: %s", strings.Join(dates, ", "))
}

func newExpirationsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "expirations SYMBOL",
		Short: "List available option expiration dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			dates, err := app.Aggregator.GetExpirations(cmd.Context(), args[0], useCache(cmd))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":      strings.ToUpper(strings.TrimSpace(args[0])),
					"expirations": dates,
				})
			}

			table := NewTable(output, "EXPIRY", "DTE")
			for _, d := range dates {
				table.AddRow(FormatExpiry(d), FormatDTE(d))
			}
			table.Render()
			output.Println()
			output.Dim("%d expirations", len(dates))
			return nil
		},
	}
}
