// Package aggregator orchestrates the cache layer and the provider clients:
// cache-first reads, ordered provider fallback on miss, write-through on
// success, and batched multi-symbol fetches. It is the only surface the rest
// of the application talks to for market data.
package aggregator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"optionscope/internal/cache"
	"optionscope/internal/config"
	"optionscope/internal/enrich"
	apperrors "optionscope/internal/errors"
	"optionscope/internal/logging"
	"optionscope/internal/models"
	"optionscope/internal/providers"
)

// Aggregator fetches quotes and option chains through an ordered provider
// fallback chain, fronted by the two-tier cache. Construct one per process
// and Close it at shutdown.
type Aggregator struct {
	cache    *cache.Cache
	quoters  []providers.Quoter
	chainers []providers.ChainSource
	rawChain providers.ChainSource
	enricher *enrich.Enricher
	cfg      config.AggregatorConfig
	logger   zerolog.Logger
	stats    *statsBook

	mu       sync.Mutex
	lastTick map[string]time.Time

	now func() time.Time
}

// New wires an Aggregator from its dependencies. quoters and chainers are
// tried strictly in the order given. rawChain is the keyless chain source
// paired with the pricing engine when every native chain provider fails; it
// may be nil, in which case chain requests have no final fallback.
func New(
	c *cache.Cache,
	quoters []providers.Quoter,
	chainers []providers.ChainSource,
	rawChain providers.ChainSource,
	enricher *enrich.Enricher,
	cfg config.AggregatorConfig,
	logger zerolog.Logger,
) *Aggregator {
	now := time.Now
	return &Aggregator{
		cache:    c,
		quoters:  quoters,
		chainers: chainers,
		rawChain: rawChain,
		enricher: enricher,
		cfg:      cfg,
		logger:   logger.With().Str("component", "aggregator").Logger(),
		stats:    newStatsBook(now),
		lastTick: make(map[string]time.Time),
		now:      now,
	}
}

// Close releases the cache layer and its background goroutines.
func (a *Aggregator) Close() error {
	return a.cache.Close()
}

// opLogger tags a logger with a fresh correlation id for one request.
func (a *Aggregator) opLogger(op, symbol string) zerolog.Logger {
	l := logging.WithRequestID(a.logger, uuid.New().String())
	l = logging.WithSymbol(l, symbol)
	return logging.WithOperation(l, op)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// GetQuote returns a quote for the symbol, consulting the cache first when
// useCache is set and otherwise walking the provider fallback chain. A fresh
// quote is always written through to the cache unless the caller has already
// gone away. Quote timestamps never move backwards for a symbol, even when a
// later fetch lands on a staler provider.
func (a *Aggregator) GetQuote(ctx context.Context, symbol string, useCache bool) (*models.Quote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, apperrors.NewValidationError("symbol", symbol, "must not be empty")
	}
	logger := a.opLogger("quote", symbol)

	if useCache {
		var q models.Quote
		if a.cache.Get(ctx, cache.NamespaceQuote, &q, symbol) {
			q.Cached = true
			return &q, nil
		}
	}

	quote, source, err := tryEach(ctx, logger, "quote", symbol, a.quoters,
		func(ctx context.Context, p providers.Quoter) (*models.Quote, error) {
			return p.GetQuote(ctx, symbol)
		}, a.stats.observe)
	if err != nil {
		return nil, err
	}

	quote.Symbol = symbol
	quote.Source = source
	quote.Cached = false
	if quote.Timestamp.IsZero() {
		quote.Timestamp = a.now().UTC()
	}
	a.clampTimestamp(quote)

	logger.Info().
		Str("source", source).
		Float64("price", quote.Price).
		Msg("Quote fetched")

	// A canceled caller must not push stale data into the cache.
	if ctx.Err() == nil {
		a.cache.Set(ctx, cache.NamespaceQuote, quote, a.cfg.QuoteTTL(), symbol)
	}
	return quote, nil
}

// clampTimestamp keeps per-symbol quote timestamps monotonic. A quote that
// arrives with an older stamp than the last one seen (a fallback landing on
// a staler provider) is clamped forward instead of rejected.
func (a *Aggregator) clampTimestamp(q *models.Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if last, ok := a.lastTick[q.Symbol]; ok && q.Timestamp.Before(last) {
		q.Timestamp = last
		return
	}
	a.lastTick[q.Symbol] = q.Timestamp
}

// expiryKey names the cache slot for a chain request; the zero expiry means
// the provider's front expiration.
func expiryKey(expiry time.Time) string {
	if expiry.IsZero() {
		return "front"
	}
	return expiry.Format("2006-01-02")
}

// GetOptionsChain returns the enriched option chain for the symbol. The raw
// chain follows the cache-first, fallback-on-miss pattern; when every native
// chain provider fails, the designated raw-chain source paired with the
// pricing engine takes over. Enrichment is recomputed on every call so the
// greeks always reflect current time-to-expiry; only the raw chain is cached.
func (a *Aggregator) GetOptionsChain(ctx context.Context, symbol string, expiry time.Time, useCache bool) (*models.EnrichedOptionsChain, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, apperrors.NewValidationError("symbol", symbol, "must not be empty")
	}
	logger := a.opLogger("chain", symbol)

	raw, err := a.rawOptionsChain(ctx, logger, symbol, expiry, useCache)
	if err != nil {
		return nil, err
	}
	return a.enricher.EnrichChain(ctx, raw)
}

func (a *Aggregator) rawOptionsChain(ctx context.Context, logger zerolog.Logger, symbol string, expiry time.Time, useCache bool) (*models.OptionsChain, error) {
	if useCache {
		var chain models.OptionsChain
		if a.cache.Get(ctx, cache.NamespaceChain, &chain, symbol, expiryKey(expiry)) {
			chain.Provenance.Cached = true
			return &chain, nil
		}
	}

	chain, source, err := tryEach(ctx, logger, "chain", symbol, a.chainers,
		func(ctx context.Context, p providers.ChainSource) (*models.OptionsChain, error) {
			return p.GetOptionsChain(ctx, symbol, expiry)
		}, a.stats.observe)
	if err != nil {
		chain, source, err = a.rawChainFallback(ctx, logger, symbol, expiry, err)
		if err != nil {
			return nil, err
		}
	}

	chain.Symbol = symbol
	chain.Provenance = models.Provenance{
		Source:    source,
		Cached:    false,
		FetchedAt: a.now().UTC(),
	}

	logger.Info().
		Str("source", source).
		Int("calls", len(chain.Calls)).
		Int("puts", len(chain.Puts)).
		Msg("Option chain fetched")

	if ctx.Err() == nil {
		a.cache.Set(ctx, cache.NamespaceChain, chain, a.cfg.ChainTTL(), symbol, expiryKey(expiry))
	}
	return chain, nil
}

// rawChainFallback pairs the keyless raw-chain source with the pricing
// engine once the native chain providers are exhausted. Cancellation and
// other non-exhaustion failures pass through untouched.
func (a *Aggregator) rawChainFallback(ctx context.Context, logger zerolog.Logger, symbol string, expiry time.Time, chainErr error) (*models.OptionsChain, string, error) {
	var exhausted *apperrors.ExhaustedError
	if !apperrors.As(chainErr, &exhausted) {
		return nil, "", chainErr
	}
	if a.rawChain == nil || a.isNativeChainer(a.rawChain.Name()) {
		return nil, "", chainErr
	}

	logger.Info().
		Str("provider", a.rawChain.Name()).
		Msg("Native chain providers exhausted, using raw chain with computed greeks")

	chain, err := a.rawChain.GetOptionsChain(ctx, symbol, expiry)
	a.stats.observe(a.rawChain.Name(), err)
	if err != nil {
		logging.LogFallback(logger, "chain", symbol, a.rawChain.Name(), err)
		exhausted.Attempts = append(exhausted.Attempts, apperrors.Attempt{
			Provider: a.rawChain.Name(),
			Err:      err,
		})
		return nil, "", exhausted
	}
	return chain, a.rawChain.Name(), nil
}

func (a *Aggregator) isNativeChainer(name string) bool {
	for _, c := range a.chainers {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// chainSources lists every chain-capable source in fallback order, the raw
// fallback last.
func (a *Aggregator) chainSources() []providers.ChainSource {
	if a.rawChain == nil || a.isNativeChainer(a.rawChain.Name()) {
		return a.chainers
	}
	out := make([]providers.ChainSource, 0, len(a.chainers)+1)
	out = append(out, a.chainers...)
	return append(out, a.rawChain)
}

// GetExpirations lists the available expiration dates for a symbol's
// options, ascending. Expiration lists change rarely, so they cache on a
// longer TTL than chains.
func (a *Aggregator) GetExpirations(ctx context.Context, symbol string, useCache bool) ([]time.Time, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, apperrors.NewValidationError("symbol", symbol, "must not be empty")
	}
	logger := a.opLogger("expirations", symbol)

	if useCache {
		var expirations []time.Time
		if a.cache.Get(ctx, cache.NamespaceExpirations, &expirations, symbol) {
			return expirations, nil
		}
	}

	expirations, _, err := tryEach(ctx, logger, "expirations", symbol, a.chainSources(),
		func(ctx context.Context, p providers.ChainSource) ([]time.Time, error) {
			return p.GetExpirations(ctx, symbol)
		}, a.stats.observe)
	if err != nil {
		return nil, err
	}

	if ctx.Err() == nil {
		a.cache.Set(ctx, cache.NamespaceExpirations, expirations, a.cfg.ExpirationsTTL(), symbol)
	}
	return expirations, nil
}
