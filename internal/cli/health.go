package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// addOpsCommands adds operational commands.
func addOpsCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newHealthCmd(app))
	rootCmd.AddCommand(newCacheCmd(app))
}

func newHealthCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report provider and cache health",
		Long: `Report per-provider call statistics, credential state, and request
budgets, plus cache connectivity. Re-pings Redis as part of the check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			health := app.Aggregator.HealthCheck(cmd.Context())
			if output.IsJSON() {
				return output.JSON(health)
			}

			output.Bold("Cache")
			if health.Cache.Degraded {
				output.Printf("  Status:   %s\n", output.Yellow("degraded (local tier only)"))
				if !health.Cache.DegradedSince.IsZero() {
					output.Printf("  Since:    %s\n", FormatDateTime(health.Cache.DegradedSince))
				}
			} else {
				output.Printf("  Status:   %s\n", output.Green("connected"))
			}
			output.Printf("  Entries:  %d local\n", health.Cache.LocalEntries)
			output.Printf("  Hits:     %d\n", health.Cache.Hits)
			output.Printf("  Misses:   %d\n", health.Cache.Misses)
			output.Println()

			output.Bold("Providers")
			names := make([]string, 0, len(health.Providers))
			for name := range health.Providers {
				names = append(names, name)
			}
			sort.Strings(names)

			table := NewTable(output, "PROVIDER", "STATUS", "CALLS", "FAILURES", "BUDGET", "LAST ERROR")
			for _, name := range names {
				ph := health.Providers[name]

				status := output.Green("ready")
				if !ph.Configured {
					status = output.Yellow("no credentials")
				}

				failures := fmt.Sprintf("%d", ph.Failures)
				if ph.Failures > 0 {
					failures = output.Red(failures)
				}

				budget := "-"
				if ph.RequestsPerDay > 0 {
					budget = fmt.Sprintf("%d/%d", ph.BudgetUsed, ph.RequestsPerDay)
				}

				lastErr := ph.LastError
				if lastErr == "" {
					lastErr = "-"
				} else if len(lastErr) > 48 {
					lastErr = lastErr[:45] + "..."
				}

				table.AddRow(name, status, fmt.Sprintf("%d", ph.Calls), failures, budget, lastErr)
			}
			table.Render()

			return nil
		},
	}
}

func newCacheCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache management",
	}

	var pattern string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached entries",
		Long: `Clear cached entries from both tiers. --pattern narrows the sweep to
matching keys, e.g. 'quote:*' or '*AAPL*'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			removed := app.Cache.Clear(cmd.Context(), pattern)
			if output.IsJSON() {
				return output.JSON(map[string]int{"removed": removed})
			}
			output.Success("Cleared %d cache entries", removed)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&pattern, "pattern", "*", "glob pattern of keys to clear")
	cmd.AddCommand(clearCmd)

	return cmd
}
