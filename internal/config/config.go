// Package config provides configuration management for the market-data engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	apperrors "optionscope/internal/errors"
)

// KnownProviders lists every provider adapter the engine can construct,
// in the default priority order for quotes.
var KnownProviders = []string{"finnhub", "twelvedata", "polygon", "alpaca", "yahoo"}

// ChainCapableProviders lists the adapters that can serve options chains.
// The rest are quote-only and may not appear in chain_priority.
var ChainCapableProviders = []string{"polygon", "alpaca", "yahoo"}

func chainCapable(name string) bool {
	for _, c := range ChainCapableProviders {
		if c == name {
			return true
		}
	}
	return false
}

// Config holds all application configuration.
type Config struct {
	Aggregator  AggregatorConfig `mapstructure:"aggregator"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Providers   ProvidersConfig  `mapstructure:"providers"`
	Credentials Credentials      `mapstructure:"-" json:"-"` // Loaded separately, never serialized
}

// AggregatorConfig holds fetch-pipeline configuration.
type AggregatorConfig struct {
	QuoteTTLSeconds       int      `mapstructure:"quote_ttl_seconds"`
	ChainTTLSeconds       int      `mapstructure:"chain_ttl_seconds"`
	ExpirationsTTLSeconds int      `mapstructure:"expirations_ttl_seconds"`
	BatchSize             int      `mapstructure:"batch_size"`
	BatchDelayMs          int      `mapstructure:"batch_delay_ms"`
	QuotePriority         []string `mapstructure:"quote_priority"`
	ChainPriority         []string `mapstructure:"chain_priority"`
	RiskFreeRate          float64  `mapstructure:"risk_free_rate"`
	DefaultIV             float64  `mapstructure:"default_iv"`
	MaxConcurrent         int      `mapstructure:"max_concurrent"`
}

// QuoteTTL returns the quote cache TTL as a duration.
func (c AggregatorConfig) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLSeconds) * time.Second
}

// ChainTTL returns the chain cache TTL as a duration.
func (c AggregatorConfig) ChainTTL() time.Duration {
	return time.Duration(c.ChainTTLSeconds) * time.Second
}

// ExpirationsTTL returns the expiration-list cache TTL as a duration.
func (c AggregatorConfig) ExpirationsTTL() time.Duration {
	return time.Duration(c.ExpirationsTTLSeconds) * time.Second
}

// BatchDelay returns the inter-batch delay as a duration.
func (c AggregatorConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

// CacheConfig holds cache-layer configuration.
type CacheConfig struct {
	RedisAddr            string `mapstructure:"redis_addr"`
	RedisDB              int    `mapstructure:"redis_db"`
	KeyPrefix            string `mapstructure:"key_prefix"`
	DialTimeoutMs        int    `mapstructure:"dial_timeout_ms"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds"`
}

// DialTimeout returns the remote-store dial timeout as a duration.
func (c CacheConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

// SweepInterval returns the janitor sweep interval as a duration.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// ProviderConfig holds per-provider tuning shared by all adapters.
type ProviderConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	RequestsPerDay    int     `mapstructure:"requests_per_day"`
}

// ProvidersConfig holds configuration for every provider adapter.
type ProvidersConfig struct {
	Finnhub    ProviderConfig `mapstructure:"finnhub"`
	TwelveData ProviderConfig `mapstructure:"twelvedata"`
	Polygon    ProviderConfig `mapstructure:"polygon"`
	Alpaca     ProviderConfig `mapstructure:"alpaca"`
	Yahoo      ProviderConfig `mapstructure:"yahoo"`
}

// ByName returns the config block for a named provider.
func (p ProvidersConfig) ByName(name string) (ProviderConfig, bool) {
	switch name {
	case "finnhub":
		return p.Finnhub, true
	case "twelvedata":
		return p.TwelveData, true
	case "polygon":
		return p.Polygon, true
	case "alpaca":
		return p.Alpaca, true
	case "yahoo":
		return p.Yahoo, true
	}
	return ProviderConfig{}, false
}

// Credentials holds API credentials.
type Credentials struct {
	Finnhub    FinnhubCredentials    `mapstructure:"finnhub"`
	TwelveData TwelveDataCredentials `mapstructure:"twelvedata"`
	Polygon    PolygonCredentials    `mapstructure:"polygon"`
	Alpaca     AlpacaCredentials     `mapstructure:"alpaca"`
	Redis      RedisCredentials      `mapstructure:"redis"`
}

// FinnhubCredentials holds Finnhub API credentials.
type FinnhubCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// TwelveDataCredentials holds Twelve Data API credentials.
type TwelveDataCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// PolygonCredentials holds Polygon API credentials.
type PolygonCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// AlpacaCredentials holds Alpaca API credentials.
type AlpacaCredentials struct {
	APIKeyID     string `mapstructure:"api_key_id"`
	APISecretKey string `mapstructure:"api_secret_key"`
}

// RedisCredentials holds the cache backing store password.
type RedisCredentials struct {
	Password string `mapstructure:"password"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/optionscope"
	}
	return filepath.Join(home, ".config", "optionscope")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, create template and continue with defaults
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Credentials file not found, create template; env vars may still
		// supply every key.
		if err := createTemplateCredentials(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(creds)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aggregator.quote_ttl_seconds", 45)
	v.SetDefault("aggregator.chain_ttl_seconds", 60)
	v.SetDefault("aggregator.expirations_ttl_seconds", 3600)
	v.SetDefault("aggregator.batch_size", 3)
	v.SetDefault("aggregator.batch_delay_ms", 350)
	v.SetDefault("aggregator.quote_priority", KnownProviders)
	v.SetDefault("aggregator.chain_priority", []string{"polygon", "alpaca"})
	v.SetDefault("aggregator.risk_free_rate", 0.05)
	v.SetDefault("aggregator.default_iv", 0.30)
	v.SetDefault("aggregator.max_concurrent", 8)

	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "optionscope")
	v.SetDefault("cache.dial_timeout_ms", 2000)
	v.SetDefault("cache.sweep_interval_seconds", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)

	// Free-tier rate limits; override per subscription.
	v.SetDefault("providers.finnhub.enabled", true)
	v.SetDefault("providers.finnhub.requests_per_second", 1.0)
	v.SetDefault("providers.finnhub.requests_per_day", 0)
	v.SetDefault("providers.twelvedata.enabled", true)
	v.SetDefault("providers.twelvedata.requests_per_second", 0.13)
	v.SetDefault("providers.twelvedata.requests_per_day", 800)
	v.SetDefault("providers.polygon.enabled", true)
	v.SetDefault("providers.polygon.requests_per_second", 0.08)
	v.SetDefault("providers.polygon.requests_per_day", 0)
	v.SetDefault("providers.alpaca.enabled", true)
	v.SetDefault("providers.alpaca.requests_per_second", 3.0)
	v.SetDefault("providers.alpaca.requests_per_day", 0)
	v.SetDefault("providers.yahoo.enabled", true)
	v.SetDefault("providers.yahoo.requests_per_second", 2.0)
	v.SetDefault("providers.yahoo.requests_per_day", 0)
}

func applyEnvOverrides(cfg *Config) {
	// Provider credentials
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Credentials.Finnhub.APIKey = v
	}
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		cfg.Credentials.TwelveData.APIKey = v
	}
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.Credentials.Polygon.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_KEY_ID"); v != "" {
		cfg.Credentials.Alpaca.APIKeyID = v
	}
	if v := os.Getenv("ALPACA_API_SECRET_KEY"); v != "" {
		cfg.Credentials.Alpaca.APISecretKey = v
	}

	// Cache backing store
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Credentials.Redis.Password = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Aggregator.QuoteTTLSeconds <= 0 {
		return fmt.Errorf("quote_ttl_seconds must be positive")
	}
	if c.Aggregator.ChainTTLSeconds <= 0 {
		return fmt.Errorf("chain_ttl_seconds must be positive")
	}
	if c.Aggregator.ExpirationsTTLSeconds <= 0 {
		return fmt.Errorf("expirations_ttl_seconds must be positive")
	}
	if c.Aggregator.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.Aggregator.BatchDelayMs < 0 {
		return fmt.Errorf("batch_delay_ms must be non-negative")
	}
	if c.Aggregator.RiskFreeRate < 0 || c.Aggregator.RiskFreeRate > 1 {
		return fmt.Errorf("risk_free_rate must be between 0 and 1")
	}
	if c.Aggregator.DefaultIV <= 0 {
		return fmt.Errorf("default_iv must be positive")
	}
	if c.Aggregator.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}

	for _, name := range c.Aggregator.QuotePriority {
		if _, ok := c.Providers.ByName(name); !ok {
			return fmt.Errorf("unknown provider in quote_priority: %s", name)
		}
	}
	for _, name := range c.Aggregator.ChainPriority {
		if _, ok := c.Providers.ByName(name); !ok {
			return fmt.Errorf("unknown provider in chain_priority: %s", name)
		}
		if !chainCapable(name) {
			return fmt.Errorf("%s in chain_priority: %w", name, apperrors.ErrChainUnsupported)
		}
	}

	for _, name := range KnownProviders {
		pc, _ := c.Providers.ByName(name)
		if pc.RequestsPerSecond < 0 {
			return fmt.Errorf("providers.%s.requests_per_second must be non-negative", name)
		}
		if pc.RequestsPerDay < 0 {
			return fmt.Errorf("providers.%s.requests_per_day must be non-negative", name)
		}
	}

	if c.Cache.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("sweep_interval_seconds must be positive")
	}

	return nil
}
