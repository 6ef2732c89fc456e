package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"optionscope/internal/models"
	"optionscope/pkg/utils"
)

// addMarketDataCommands adds quote, chain, and expirations commands.
func addMarketDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newQuoteCmd(app))
	rootCmd.AddCommand(newChainCmd(app))
	rootCmd.AddCommand(newExpirationsCmd(app))
}

func newQuoteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL [SYMBOL...]",
		Short: "Fetch stock quotes",
		Long: `Fetch the latest quote for one or more symbols.

A single symbol walks the provider fallback chain and fails only when every
provider is down. Multiple symbols fetch concurrently in rate-limit friendly
batches; symbols that fail are reported without failing the rest.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if len(args) == 1 {
				quote, err := app.Aggregator.GetQuote(ctx, args[0], useCache(cmd))
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(quote)
				}
				printQuote(output, quote)
				return nil
			}

			quotes := app.Aggregator.BatchQuotes(ctx, args, useCache(cmd))
			if output.IsJSON() {
				return output.JSON(quotes)
			}
			printQuoteTable(output, args, quotes)
			return nil
		},
	}
}

func printQuote(output *Output, q *models.Quote) {
	output.Printf("%s  %s  %s  %s%s\n",
		output.BoldText(q.Symbol),
		utils.FormatUSD(q.Price),
		output.FormatChange(q.Change, q.ChangePercent),
		output.SourceTag(q.Source),
		output.CacheTag(q.Cached),
	)
	output.Printf("  Open: %s  High: %s  Low: %s  Prev Close: %s\n",
		utils.FormatUSD(q.Open), utils.FormatUSD(q.High), utils.FormatUSD(q.Low), utils.FormatUSD(q.PrevClose))
	output.Printf("  Volume: %s\n", FormatVolume(q.Volume))
	if q.MarketCap > 0 {
		output.Printf("  Market Cap: %s\n", FormatMarketCap(q.MarketCap))
	}
	output.Dim("  As of %s", FormatDateTime(q.Timestamp))
}

func printQuoteTable(output *Output, requested []string, quotes map[string]*models.Quote) {
	table := NewTable(output, "SYMBOL", "PRICE", "CHANGE", "VOLUME", "SOURCE")

	var failed []string
	for _, symbol := range requested {
		key := strings.ToUpper(strings.TrimSpace(symbol))
		q, ok := quotes[key]
		if !ok {
			failed = append(failed, key)
			continue
		}
		source := q.Source
		if q.Cached {
			source += " (cached)"
		}
		table.AddRow(
			output.BoldText(q.Symbol),
			utils.FormatUSD(q.Price),
			output.FormatChange(q.Change, q.ChangePercent),
			FormatVolume(q.Volume),
			source,
		)
	}
	table.Render()

	if len(failed) > 0 {
		output.Println()
		output.Warning("No data for: %s", strings.Join(failed, ", "))
	}
}
