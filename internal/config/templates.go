package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# optionscope configuration

[aggregator]
# Quote cache TTL in seconds (short: quotes go stale fast)
quote_ttl_seconds = 45
# Option chain cache TTL in seconds
chain_ttl_seconds = 60
# Expiration-list cache TTL in seconds; contract listings change rarely
expirations_ttl_seconds = 3600
# Symbols per concurrent batch in batch quote fetches
batch_size = 3
# Delay between batches in milliseconds
batch_delay_ms = 350
# Provider priority for quotes; first configured provider wins
quote_priority = ["finnhub", "twelvedata", "polygon", "alpaca", "yahoo"]
# Provider priority for native option chains. Chain-capable providers are
# polygon, alpaca, and yahoo; leaving yahoo out keeps it as the final
# raw-chain fallback instead
chain_priority = ["polygon", "alpaca"]
# Risk-free rate used by the pricing engine
risk_free_rate = 0.05
# Volatility assumed when a contract reports none
default_iv = 0.30
# Bound on concurrent enrichment and batch workers
max_concurrent = 8

[cache]
# Remote TTL store; the engine degrades to in-process caching when unreachable
redis_addr = "localhost:6379"
redis_db = 0
key_prefix = "optionscope"
dial_timeout_ms = 2000
# Janitor sweep interval in seconds (expired-entry eviction, remote re-ping)
sweep_interval_seconds = 60

[logging]
# Log level: debug, info, warn, error
level = "info"
console = true
file = true

# Per-provider tuning. requests_per_second throttles the minimum
# inter-request interval; requests_per_day of 0 means unlimited.

[providers.finnhub]
enabled = true
requests_per_second = 1.0
requests_per_day = 0

[providers.twelvedata]
enabled = true
requests_per_second = 0.13
requests_per_day = 800

[providers.polygon]
enabled = true
requests_per_second = 0.08
requests_per_day = 0

[providers.alpaca]
enabled = true
requests_per_second = 3.0
requests_per_day = 0

[providers.yahoo]
enabled = true
requests_per_second = 2.0
requests_per_day = 0
`

const credentialsTemplate = `# optionscope credentials
# WARNING: Keep this file secure! Do not commit to version control.
# Environment variables override these values: FINNHUB_API_KEY,
# TWELVEDATA_API_KEY, POLYGON_API_KEY, ALPACA_API_KEY_ID,
# ALPACA_API_SECRET_KEY, REDIS_PASSWORD.
# Yahoo is keyless and needs no entry here.

[finnhub]
api_key = ""

[twelvedata]
api_key = ""

[polygon]
api_key = ""

[alpaca]
api_key_id = ""
api_secret_key = ""

[redis]
password = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	// Defaults are complete, so a fresh install keeps working.
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	// Keyless providers still work; configured ones come from env vars.
	return nil
}
