package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"optionscope/internal/aggregator"
	"optionscope/internal/cache"
	"optionscope/internal/config"
	"optionscope/internal/enrich"
	"optionscope/internal/logging"
	"optionscope/internal/providers"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Cache      *cache.Cache
	Aggregator *aggregator.Aggregator
}

// Close releases the aggregator and its cache layer.
func (a *App) Close() error {
	if a.Aggregator != nil {
		return a.Aggregator.Close()
	}
	return nil
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := newApp(cfg, logger)

	rootCmd := &cobra.Command{
		Use:   "optionscope",
		Short: "Options market data aggregator and pricing CLI",
		Long: `Optionscope aggregates stock quotes and options chains from multiple
market data providers with automatic fallback, caches responses in Redis,
and computes Black-Scholes prices, greeks, and implied volatility locally.

Use 'optionscope help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if err := app.Close(); err != nil {
				app.Logger.Warn().Err(err).Msg("Teardown failed")
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/optionscope)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-cache", false, "bypass cache reads and fetch fresh data")

	addCoreCommands(rootCmd, app)
	addMarketDataCommands(rootCmd, app)
	addPricingCommands(rootCmd, app)
	addOpsCommands(rootCmd, app)

	return rootCmd
}

// newApp wires the engine from configuration. Adapters for enabled providers
// are always constructed even without credentials; the fallback pipeline
// skips unconfigured ones at call time. Disabled providers are dropped.
func newApp(cfg *config.Config, logger zerolog.Logger) *App {
	store := cache.New(cache.Config{
		Addr:          cfg.Cache.RedisAddr,
		Password:      cfg.Credentials.Redis.Password,
		DB:            cfg.Cache.RedisDB,
		KeyPrefix:     cfg.Cache.KeyPrefix,
		DialTimeout:   cfg.Cache.DialTimeout(),
		SweepInterval: cfg.Cache.SweepInterval(),
	}, logger)

	quoters, chainers, rawChain := buildProviders(cfg, logger)
	enricher := enrich.New(cfg.Aggregator.RiskFreeRate, cfg.Aggregator.DefaultIV, cfg.Aggregator.MaxConcurrent)
	agg := aggregator.New(store, quoters, chainers, rawChain, enricher, cfg.Aggregator, logger)

	logger.Debug().
		Int("quoters", len(quoters)).
		Int("chainers", len(chainers)).
		Bool("raw_chain", rawChain != nil).
		Msg("Engine initialized")

	return &App{
		Config:     cfg,
		Logger:     logger,
		Cache:      store,
		Aggregator: agg,
	}
}

// buildProviders constructs the enabled adapters and orders them by the
// configured priority lists. Yahoo doubles as the keyless raw-chain fallback.
func buildProviders(cfg *config.Config, logger zerolog.Logger) ([]providers.Quoter, []providers.ChainSource, providers.ChainSource) {
	quoterByName := make(map[string]providers.Quoter)
	chainerByName := make(map[string]providers.ChainSource)
	var rawChain providers.ChainSource

	if pc := cfg.Providers.Finnhub; pc.Enabled {
		quoterByName["finnhub"] = providers.NewFinnhub(cfg.Credentials.Finnhub.APIKey, rateLimit(pc), logger)
	}
	if pc := cfg.Providers.TwelveData; pc.Enabled {
		quoterByName["twelvedata"] = providers.NewTwelveData(cfg.Credentials.TwelveData.APIKey, rateLimit(pc), logger)
	}
	if pc := cfg.Providers.Polygon; pc.Enabled {
		polygon := providers.NewPolygon(cfg.Credentials.Polygon.APIKey, rateLimit(pc), logger)
		quoterByName["polygon"] = polygon
		chainerByName["polygon"] = polygon
	}
	if pc := cfg.Providers.Alpaca; pc.Enabled {
		alpaca := providers.NewAlpaca(cfg.Credentials.Alpaca.APIKeyID, cfg.Credentials.Alpaca.APISecretKey, rateLimit(pc), logger)
		quoterByName["alpaca"] = alpaca
		chainerByName["alpaca"] = alpaca
	}
	if pc := cfg.Providers.Yahoo; pc.Enabled {
		yahoo := providers.NewYahoo(rateLimit(pc), logger)
		quoterByName["yahoo"] = yahoo
		chainerByName["yahoo"] = yahoo
		rawChain = yahoo
	}

	var quoters []providers.Quoter
	for _, name := range cfg.Aggregator.QuotePriority {
		if q, ok := quoterByName[name]; ok {
			quoters = append(quoters, q)
		}
	}
	var chainers []providers.ChainSource
	for _, name := range cfg.Aggregator.ChainPriority {
		if c, ok := chainerByName[name]; ok {
			chainers = append(chainers, c)
		}
	}

	return quoters, chainers, rawChain
}

// rateLimit converts a provider config block to a RateLimit. A zero block
// lets the adapter's built-in free-tier default apply.
func rateLimit(pc config.ProviderConfig) providers.RateLimit {
	return providers.RateLimit{
		RequestsPerSecond: pc.RequestsPerSecond,
		RequestsPerDay:    pc.RequestsPerDay,
	}
}

// useCache reads the global no-cache flag.
func useCache(cmd *cobra.Command) bool {
	noCache, _ := cmd.Flags().GetBool("no-cache")
	return !noCache
}

// addCoreCommands adds version, config, and examples commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newExamplesCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("optionscope v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show common workflows",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)

			output.Bold("Quotes")
			output.Println("  optionscope quote AAPL")
			output.Println("  optionscope quote AAPL MSFT NVDA TSLA")
			output.Println("  optionscope quote SPY --no-cache")
			output.Println()

			output.Bold("Options chains")
			output.Println("  optionscope chain AAPL")
			output.Println("  optionscope chain AAPL --expiry 2026-01-16 --strikes 10")
			output.Println("  optionscope chain SPY --puts --json")
			output.Println("  optionscope expirations AAPL")
			output.Println()

			output.Bold("Pricing")
			output.Println("  optionscope price --spot 187.33 --strike 190 --dte 30 --vol 0.28")
			output.Println("  optionscope greeks --spot 187.33 --strike 190 --dte 30 --type put")
			output.Println("  optionscope iv --spot 187.33 --strike 190 --dte 30 --market-price 4.20")
			output.Println()

			output.Bold("Operations")
			output.Println("  optionscope health")
			output.Println("  optionscope cache clear --pattern 'quote:*'")
			output.Println("  optionscope config show")
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Aggregator")
	output.Printf("  Quote TTL:        %s\n", cfg.Aggregator.QuoteTTL())
	output.Printf("  Chain TTL:        %s\n", cfg.Aggregator.ChainTTL())
	output.Printf("  Expirations TTL:  %s\n", cfg.Aggregator.ExpirationsTTL())
	output.Printf("  Batch Size:       %d\n", cfg.Aggregator.BatchSize)
	output.Printf("  Batch Delay:      %s\n", cfg.Aggregator.BatchDelay())
	output.Printf("  Quote Priority:   %v\n", cfg.Aggregator.QuotePriority)
	output.Printf("  Chain Priority:   %v\n", cfg.Aggregator.ChainPriority)
	output.Println()

	output.Bold("Pricing")
	output.Printf("  Risk-Free Rate:   %.2f%%\n", cfg.Aggregator.RiskFreeRate*100)
	output.Printf("  Default IV:       %.2f%%\n", cfg.Aggregator.DefaultIV*100)
	output.Printf("  Max Concurrent:   %d\n", cfg.Aggregator.MaxConcurrent)
	output.Println()

	output.Bold("Cache")
	output.Printf("  Redis Address:    %s\n", cfg.Cache.RedisAddr)
	output.Printf("  Redis DB:         %d\n", cfg.Cache.RedisDB)
	output.Printf("  Key Prefix:       %s\n", cfg.Cache.KeyPrefix)
	output.Printf("  Dial Timeout:     %s\n", cfg.Cache.DialTimeout())
	output.Printf("  Sweep Interval:   %s\n", cfg.Cache.SweepInterval())
	output.Println()

	output.Bold("Providers")
	showProvider(output, "finnhub", cfg.Providers.Finnhub, cfg.Credentials.Finnhub.APIKey != "")
	showProvider(output, "twelvedata", cfg.Providers.TwelveData, cfg.Credentials.TwelveData.APIKey != "")
	showProvider(output, "polygon", cfg.Providers.Polygon, cfg.Credentials.Polygon.APIKey != "")
	showProvider(output, "alpaca", cfg.Providers.Alpaca, cfg.Credentials.Alpaca.APIKeyID != "")
	showProvider(output, "yahoo", cfg.Providers.Yahoo, true)

	return nil
}

func showProvider(output *Output, name string, pc config.ProviderConfig, hasKey bool) {
	status := output.Red("disabled")
	if pc.Enabled && hasKey {
		status = output.Green("ready")
	} else if pc.Enabled {
		status = output.Yellow("no credentials")
	}
	output.Printf("  %-12s %s", name, status)
	if pc.RequestsPerSecond > 0 {
		output.Printf("  (%.2f req/s", pc.RequestsPerSecond)
		if pc.RequestsPerDay > 0 {
			output.Printf(", %d/day", pc.RequestsPerDay)
		}
		output.Printf(")")
	}
	output.Println()
}
