package aggregator

import (
	"context"
	"sync"
	"time"

	"optionscope/internal/cache"
	"optionscope/internal/providers"
)

// ProviderHealth reports one adapter's availability and usage.
type ProviderHealth struct {
	Configured        bool      `json:"configured"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	RequestsPerDay    int       `json:"requests_per_day"`
	BudgetUsed        int       `json:"budget_used"`
	BudgetResetAt     time.Time `json:"budget_reset_at"`
	Calls             int64     `json:"calls"`
	Failures          int64     `json:"failures"`
	LastSuccess       time.Time `json:"last_success"`
	LastFailure       time.Time `json:"last_failure"`
	LastError         string    `json:"last_error,omitempty"`
}

// Health is the engine-wide availability report.
type Health struct {
	Cache     cache.Health              `json:"cache"`
	Providers map[string]ProviderHealth `json:"providers"`
	CheckedAt time.Time                 `json:"checked_at"`
}

// providerStats accumulates call outcomes for one provider.
type providerStats struct {
	calls       int64
	failures    int64
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
}

// statsBook tracks per-provider outcomes across concurrent requests.
type statsBook struct {
	mu  sync.Mutex
	m   map[string]*providerStats
	now func() time.Time
}

func newStatsBook(now func() time.Time) *statsBook {
	return &statsBook{m: make(map[string]*providerStats), now: now}
}

func (b *statsBook) observe(provider string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.m[provider]
	if s == nil {
		s = &providerStats{}
		b.m[provider] = s
	}
	s.calls++
	if err != nil {
		s.failures++
		s.lastFailure = b.now()
		s.lastError = err.Error()
		return
	}
	s.lastSuccess = b.now()
}

func (b *statsBook) snapshot(provider string) providerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.m[provider]; s != nil {
		return *s
	}
	return providerStats{}
}

// HealthCheck probes the cache backing store and reports per-provider state.
// Providers are never probed with live requests here; their entries reflect
// configuration, declared limits, and outcomes of the calls already made.
func (a *Aggregator) HealthCheck(ctx context.Context) Health {
	a.cache.HealthCheck(ctx)

	report := Health{
		Cache:     a.cache.Health(),
		Providers: make(map[string]ProviderHealth),
		CheckedAt: a.now().UTC(),
	}

	for _, q := range a.allProviders() {
		report.Providers[q.Name()] = a.providerHealth(q)
	}
	return report
}

func (a *Aggregator) providerHealth(q providers.Quoter) ProviderHealth {
	limit := q.RateLimit()
	stats := a.stats.snapshot(q.Name())

	h := ProviderHealth{
		Configured:        true,
		RequestsPerSecond: limit.RequestsPerSecond,
		RequestsPerDay:    limit.RequestsPerDay,
		Calls:             stats.calls,
		Failures:          stats.failures,
		LastSuccess:       stats.lastSuccess,
		LastFailure:       stats.lastFailure,
		LastError:         stats.lastError,
	}
	if sr, ok := q.(providers.StatusReporter); ok {
		h.Configured = sr.Configured()
		used, _, resetAt := sr.Budget()
		h.BudgetUsed = used
		h.BudgetResetAt = resetAt
	}
	return h
}

// allProviders lists every distinct provider the aggregator can reach, in
// quote-priority order first, then chain-only sources.
func (a *Aggregator) allProviders() []providers.Quoter {
	seen := make(map[string]bool, len(a.quoters))
	out := make([]providers.Quoter, 0, len(a.quoters)+len(a.chainers)+1)

	add := func(q providers.Quoter) {
		if q == nil || seen[q.Name()] {
			return
		}
		seen[q.Name()] = true
		out = append(out, q)
	}

	for _, q := range a.quoters {
		add(q)
	}
	for _, c := range a.chainers {
		add(c)
	}
	add(a.rawChain)
	return out
}
