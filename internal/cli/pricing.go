package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"optionscope/internal/models"
	"optionscope/internal/pricing"
	"optionscope/pkg/utils"
)

// addPricingCommands adds the local Black-Scholes calculator commands. These
// never touch a provider; everything is computed from the flag inputs.
func addPricingCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPriceCmd(app))
	rootCmd.AddCommand(newGreeksCmd(app))
	rootCmd.AddCommand(newIVCmd(app))
}

// contractFlags holds the flag set shared by the calculator commands.
type contractFlags struct {
	spot    float64
	strike  float64
	expiry  string
	dte     int
	rate    float64
	optType string
}

func (f *contractFlags) register(cmd *cobra.Command, defaultRate float64) {
	cmd.Flags().Float64Var(&f.spot, "spot", 0, "underlying price (required)")
	cmd.Flags().Float64Var(&f.strike, "strike", 0, "strike price (required)")
	cmd.Flags().StringVar(&f.expiry, "expiry", "", "expiration date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.dte, "dte", 0, "days to expiration (alternative to --expiry)")
	cmd.Flags().Float64Var(&f.rate, "rate", defaultRate, "annualized risk-free rate")
	cmd.Flags().StringVar(&f.optType, "type", "call", "option type: call or put")
	cmd.MarkFlagRequired("spot")
	cmd.MarkFlagRequired("strike")
}

func (f *contractFlags) validate() error {
	if f.spot <= 0 {
		return fmt.Errorf("--spot must be positive")
	}
	if f.strike <= 0 {
		return fmt.Errorf("--strike must be positive")
	}
	return nil
}

// years resolves --expiry or --dte to a year fraction, clamped at zero.
func (f *contractFlags) years() (float64, error) {
	if f.expiry != "" {
		t, err := time.Parse("2006-01-02", f.expiry)
		if err != nil {
			return 0, fmt.Errorf("invalid --expiry %q: use YYYY-MM-DD", f.expiry)
		}
		years := time.Until(t).Hours() / (24 * 365)
		if years < 0 {
			years = 0
		}
		return years, nil
	}
	if f.dte < 0 {
		return 0, fmt.Errorf("--dte must not be negative")
	}
	return float64(f.dte) / 365, nil
}

func (f *contractFlags) optionType() (models.OptionType, error) {
	typ := models.OptionType(strings.ToLower(f.optType))
	if !typ.IsValid() {
		return "", fmt.Errorf("invalid --type %q: use call or put", f.optType)
	}
	return typ, nil
}

func newPriceCmd(app *App) *cobra.Command {
	flags := &contractFlags{}
	var vol float64

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price an option with Black-Scholes",
		Example: `  optionscope price --spot 187.33 --strike 190 --dte 30 --vol 0.28
  optionscope price --spot 187.33 --strike 180 --expiry 2026-01-16 --type put`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			typ, err := flags.optionType()
			if err != nil {
				return err
			}
			if err := flags.validate(); err != nil {
				return err
			}
			t, err := flags.years()
			if err != nil {
				return err
			}

			price := pricing.Price(flags.spot, flags.strike, t, flags.rate, vol, typ)
			intrinsic := pricing.Intrinsic(flags.spot, flags.strike, typ)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"type":       typ,
					"spot":       flags.spot,
					"strike":     flags.strike,
					"years":      t,
					"rate":       flags.rate,
					"volatility": vol,
					"price":      price,
					"intrinsic":  intrinsic,
					"time_value": price - intrinsic,
				})
			}

			output.Printf("%s %s %s @ vol %s\n",
				output.BoldText(strings.ToUpper(string(typ))),
				utils.FormatUSD(flags.strike),
				FormatYears(t),
				FormatIV(vol),
			)
			output.Printf("  Price:      %s\n", utils.FormatUSD(price))
			output.Printf("  Intrinsic:  %s\n", utils.FormatUSD(intrinsic))
			output.Printf("  Time Value: %s\n", utils.FormatUSD(price-intrinsic))
			return nil
		},
	}

	flags.register(cmd, app.Config.Aggregator.RiskFreeRate)
	cmd.Flags().Float64Var(&vol, "vol", app.Config.Aggregator.DefaultIV, "annualized volatility (e.g. 0.30)")

	return cmd
}

func newGreeksCmd(app *App) *cobra.Command {
	flags := &contractFlags{}
	var vol float64

	cmd := &cobra.Command{
		Use:   "greeks",
		Short: "Compute option greeks with Black-Scholes",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			typ, err := flags.optionType()
			if err != nil {
				return err
			}
			if err := flags.validate(); err != nil {
				return err
			}
			t, err := flags.years()
			if err != nil {
				return err
			}

			greeks := pricing.ComputeGreeks(flags.spot, flags.strike, t, flags.rate, vol, typ)
			price := pricing.Price(flags.spot, flags.strike, t, flags.rate, vol, typ)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"type":       typ,
					"spot":       flags.spot,
					"strike":     flags.strike,
					"years":      t,
					"rate":       flags.rate,
					"volatility": vol,
					"price":      price,
					"greeks":     greeks,
				})
			}

			output.Printf("%s %s %s @ vol %s  price %s\n",
				output.BoldText(strings.ToUpper(string(typ))),
				utils.FormatUSD(flags.strike),
				FormatYears(t),
				FormatIV(vol),
				utils.FormatUSD(price),
			)
			output.Printf("  Delta: %8.4f   (per $1 spot move)\n", greeks.Delta)
			output.Printf("  Gamma: %8.4f   (delta change per $1)\n", greeks.Gamma)
			output.Printf("  Theta: %8.4f   (per calendar day)\n", greeks.Theta)
			output.Printf("  Vega:  %8.4f   (per vol point)\n", greeks.Vega)
			output.Printf("  Rho:   %8.4f   (per 1%% rate move)\n", greeks.Rho)
			return nil
		},
	}

	flags.register(cmd, app.Config.Aggregator.RiskFreeRate)
	cmd.Flags().Float64Var(&vol, "vol", app.Config.Aggregator.DefaultIV, "annualized volatility (e.g. 0.30)")

	return cmd
}

func newIVCmd(app *App) *cobra.Command {
	flags := &contractFlags{}
	var marketPrice float64

	cmd := &cobra.Command{
		Use:   "iv",
		Short: "Back out implied volatility from a market price",
		Long: `Solve for the volatility at which Black-Scholes reproduces the observed
option price. The solver is best-effort: contracts at or below intrinsic
value have no time value to invert and report no solution.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			typ, err := flags.optionType()
			if err != nil {
				return err
			}
			if err := flags.validate(); err != nil {
				return err
			}
			if marketPrice <= 0 {
				return fmt.Errorf("--market-price must be positive")
			}
			t, err := flags.years()
			if err != nil {
				return err
			}

			iv := pricing.ImpliedVolatility(marketPrice, flags.spot, flags.strike, t, flags.rate, typ)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"type":               typ,
					"spot":               flags.spot,
					"strike":             flags.strike,
					"years":              t,
					"rate":               flags.rate,
					"market_price":       marketPrice,
					"implied_volatility": iv,
				})
			}

			if iv <= 0 {
				output.Warning("No solution: the contract has no time value to invert")
				return nil
			}
			output.Printf("%s %s %s  market %s\n",
				output.BoldText(strings.ToUpper(string(typ))),
				utils.FormatUSD(flags.strike),
				FormatYears(t),
				utils.FormatUSD(marketPrice),
			)
			output.Printf("  Implied Volatility: %s\n", output.BoldText(FormatIV(iv)))
			return nil
		},
	}

	flags.register(cmd, app.Config.Aggregator.RiskFreeRate)
	cmd.Flags().Float64Var(&marketPrice, "market-price", 0, "observed option price (required)")
	cmd.MarkFlagRequired("market-price")

	return cmd
}
