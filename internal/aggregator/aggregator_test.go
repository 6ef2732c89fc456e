package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"optionscope/internal/cache"
	"optionscope/internal/config"
	"optionscope/internal/enrich"
	apperrors "optionscope/internal/errors"
	"optionscope/internal/models"
	"optionscope/internal/providers"
)

// callSeq records the order providers were attempted in across fakes.
type callSeq struct {
	mu    sync.Mutex
	names []string
}

func (s *callSeq) record(name string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
}

func (s *callSeq) get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

type fakeQuoter struct {
	name string
	seq  *callSeq

	mu      sync.Mutex
	calls   int
	err     error
	failFor map[string]error
	price   float64
	ts      time.Time
	onCall  func()
}

func (f *fakeQuoter) Name() string { return f.name }

func (f *fakeQuoter) RateLimit() providers.RateLimit {
	return providers.RateLimit{RequestsPerSecond: 100}
}

func (f *fakeQuoter) GetQuote(_ context.Context, symbol string) (*models.Quote, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	if e, ok := f.failFor[symbol]; ok {
		err = e
	}
	price := f.price
	ts := f.ts
	hook := f.onCall
	f.mu.Unlock()

	f.seq.record(f.name)
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &models.Quote{Symbol: symbol, Price: price, Timestamp: ts, Source: f.name}, nil
}

func (f *fakeQuoter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeQuoter) setTimestamp(ts time.Time) {
	f.mu.Lock()
	f.ts = ts
	f.mu.Unlock()
}

type fakeChainSource struct {
	fakeQuoter

	chainMu     sync.Mutex
	chain       *models.OptionsChain
	chainErr    error
	chainCalls  int
	expirations []time.Time
	expErr      error
	expCalls    int
}

func (f *fakeChainSource) GetOptionsChain(_ context.Context, symbol string, _ time.Time) (*models.OptionsChain, error) {
	f.chainMu.Lock()
	f.chainCalls++
	err := f.chainErr
	f.chainMu.Unlock()

	f.seq.record(f.name + "/chain")
	if err != nil {
		return nil, err
	}
	chain := *f.chain
	chain.Symbol = symbol
	return &chain, nil
}

func (f *fakeChainSource) GetExpirations(_ context.Context, _ string) ([]time.Time, error) {
	f.chainMu.Lock()
	f.expCalls++
	err := f.expErr
	f.chainMu.Unlock()

	if err != nil {
		return nil, err
	}
	return append([]time.Time(nil), f.expirations...), nil
}

func (f *fakeChainSource) chainCallCount() int {
	f.chainMu.Lock()
	defer f.chainMu.Unlock()
	return f.chainCalls
}

func (f *fakeChainSource) expCallCount() int {
	f.chainMu.Lock()
	defer f.chainMu.Unlock()
	return f.expCalls
}

func errUnavailable(status int) error {
	return apperrors.NewProviderError("fake", status,
		fmt.Errorf("%w: synthetic outage", apperrors.ErrUnavailable))
}

func testConfig() config.AggregatorConfig {
	return config.AggregatorConfig{
		QuoteTTLSeconds:       45,
		ChainTTLSeconds:       60,
		ExpirationsTTLSeconds: 3600,
		BatchSize:             2,
		BatchDelayMs:          5,
		RiskFreeRate:          0.05,
		DefaultIV:             0.30,
		MaxConcurrent:         4,
	}
}

// newTestAggregator builds an aggregator over a cache whose remote store is
// unreachable, so caching runs on the in-process tier alone.
func newTestAggregator(t *testing.T, quoters []providers.Quoter, chainers []providers.ChainSource, raw providers.ChainSource) *Aggregator {
	t.Helper()
	c := cache.New(cache.Config{
		Addr:          "127.0.0.1:1",
		KeyPrefix:     "aggtest",
		DialTimeout:   20 * time.Millisecond,
		SweepInterval: time.Hour,
	}, zerolog.Nop())

	a := New(c, quoters, chainers, raw, enrich.New(0.05, 0.30, 4), testConfig(), zerolog.Nop())
	t.Cleanup(func() { a.Close() })
	return a
}

func TestGetQuoteFallbackOrder(t *testing.T) {
	seq := &callSeq{}
	alpha := &fakeQuoter{name: "alpha", seq: seq, err: errUnavailable(500)}
	bravo := &fakeQuoter{name: "bravo", seq: seq, err: errUnavailable(503)}
	charlie := &fakeQuoter{name: "charlie", seq: seq, price: 210.5}
	agg := newTestAggregator(t, []providers.Quoter{alpha, bravo, charlie}, nil, nil)

	quote, err := agg.GetQuote(context.Background(), "NVDA", true)
	if err != nil {
		t.Fatal(err)
	}
	if quote.Source != "charlie" {
		t.Errorf("source = %q, want charlie", quote.Source)
	}
	if quote.Price != 210.5 || quote.Cached {
		t.Errorf("quote = %+v", quote)
	}

	want := []string{"alpha", "bravo", "charlie"}
	got := seq.get()
	if len(got) != len(want) {
		t.Fatalf("attempts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempts = %v, want %v", got, want)
		}
	}
}

func TestGetQuoteEndToEnd(t *testing.T) {
	alpha := &fakeQuoter{name: "alpha", err: errUnavailable(500)}
	bravo := &fakeQuoter{name: "bravo", price: 185.00}
	agg := newTestAggregator(t, []providers.Quoter{alpha, bravo}, nil, nil)

	quote, err := agg.GetQuote(context.Background(), "AAPL", true)
	if err != nil {
		t.Fatal(err)
	}
	if quote.Price != 185.00 || quote.Source != "bravo" || quote.Cached {
		t.Fatalf("first fetch = %+v", quote)
	}

	again, err := agg.GetQuote(context.Background(), "AAPL", true)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Cached {
		t.Error("second fetch not served from cache")
	}
	if again.Price != 185.00 || again.Source != "bravo" {
		t.Errorf("cached quote = %+v", again)
	}
	if alpha.callCount() != 1 || bravo.callCount() != 1 {
		t.Errorf("provider calls = %d/%d, want 1/1 (cache hit must not refetch)",
			alpha.callCount(), bravo.callCount())
	}
}

func TestGetQuoteSkipsNotConfigured(t *testing.T) {
	alpha := &fakeQuoter{name: "alpha",
		err: apperrors.NewProviderError("alpha", 0, apperrors.ErrNotConfigured)}
	bravo := &fakeQuoter{name: "bravo", price: 99.5}
	agg := newTestAggregator(t, []providers.Quoter{alpha, bravo}, nil, nil)

	quote, err := agg.GetQuote(context.Background(), "MSFT", true)
	if err != nil {
		t.Fatal(err)
	}
	if quote.Source != "bravo" {
		t.Errorf("source = %q, want bravo", quote.Source)
	}

	// The skipped provider must not pollute health stats with a failure.
	health := agg.HealthCheck(context.Background())
	if h := health.Providers["alpha"]; h.Failures != 0 || h.Calls != 0 {
		t.Errorf("not-configured provider stats = %+v, want untouched", h)
	}
}

func TestGetQuoteExhausted(t *testing.T) {
	alpha := &fakeQuoter{name: "alpha", err: errUnavailable(500)}
	bravo := &fakeQuoter{name: "bravo",
		err: apperrors.NewProviderError("bravo", 429, apperrors.ErrRateLimited)}
	agg := newTestAggregator(t, []providers.Quoter{alpha, bravo}, nil, nil)

	_, err := agg.GetQuote(context.Background(), "TSLA", true)
	var exhausted *apperrors.ExhaustedError
	if !apperrors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Op != "quote" || exhausted.Symbol != "TSLA" {
		t.Errorf("exhausted = %+v", exhausted)
	}
	if len(exhausted.Attempts) != 2 ||
		exhausted.Attempts[0].Provider != "alpha" ||
		exhausted.Attempts[1].Provider != "bravo" {
		t.Errorf("attempts = %+v", exhausted.Attempts)
	}
}

func TestGetQuoteEmptySymbol(t *testing.T) {
	agg := newTestAggregator(t, []providers.Quoter{&fakeQuoter{name: "alpha", price: 1}}, nil, nil)

	_, err := agg.GetQuote(context.Background(), "   ", true)
	var verr *apperrors.ValidationError
	if !apperrors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestGetQuoteBypassReadStillWritesThrough(t *testing.T) {
	alpha := &fakeQuoter{name: "alpha", price: 42}
	agg := newTestAggregator(t, []providers.Quoter{alpha}, nil, nil)

	if _, err := agg.GetQuote(context.Background(), "AMD", false); err != nil {
		t.Fatal(err)
	}
	quote, err := agg.GetQuote(context.Background(), "AMD", true)
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Cached {
		t.Error("write-through on a bypassed read did not populate the cache")
	}
	if alpha.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", alpha.callCount())
	}
}

func TestGetQuoteCanceledCallerDoesNotCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	alpha := &fakeQuoter{name: "alpha", price: 77}
	alpha.onCall = cancel // the caller goes away while the fetch is in flight
	agg := newTestAggregator(t, []providers.Quoter{alpha}, nil, nil)

	quote, err := agg.GetQuote(ctx, "INTC", true)
	if err != nil {
		t.Fatal(err)
	}
	if quote.Price != 77 {
		t.Errorf("quote = %+v", quote)
	}

	alpha.onCall = nil
	fresh, err := agg.GetQuote(context.Background(), "INTC", true)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Cached {
		t.Error("canceled request leaked its quote into the cache")
	}
	if alpha.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", alpha.callCount())
	}
}

func TestGetQuoteTimestampsNeverRegress(t *testing.T) {
	t2 := time.Date(2024, 6, 14, 15, 30, 5, 0, time.UTC)
	t1 := t2.Add(-5 * time.Second)
	t3 := t2.Add(5 * time.Second)

	alpha := &fakeQuoter{name: "alpha", price: 10, ts: t2}
	agg := newTestAggregator(t, []providers.Quoter{alpha}, nil, nil)

	quote, err := agg.GetQuote(context.Background(), "SPY", false)
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Timestamp.Equal(t2) {
		t.Fatalf("timestamp = %v, want %v", quote.Timestamp, t2)
	}

	// A staler source must not move the symbol's clock backwards.
	alpha.setTimestamp(t1)
	quote, err = agg.GetQuote(context.Background(), "SPY", false)
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Timestamp.Equal(t2) {
		t.Errorf("timestamp = %v, want clamped to %v", quote.Timestamp, t2)
	}

	alpha.setTimestamp(t3)
	quote, err = agg.GetQuote(context.Background(), "SPY", false)
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Timestamp.Equal(t3) {
		t.Errorf("timestamp = %v, want %v", quote.Timestamp, t3)
	}
}

func testChain(expiry time.Time) *models.OptionsChain {
	return &models.OptionsChain{
		UnderlyingPrice: 187.33,
		Calls: []models.RawOptionContract{
			{Strike: 185, Expiry: expiry, Type: models.Call, Last: 7.25, ImpliedVolatility: 0.23},
			{Strike: 190, Expiry: expiry, Type: models.Call, Last: 5.3, ImpliedVolatility: 0.25},
		},
		Puts: []models.RawOptionContract{
			{Strike: 185, Expiry: expiry, Type: models.Put, Last: 4.9},
		},
		Expirations: []time.Time{expiry},
	}
}

func TestGetOptionsChainNative(t *testing.T) {
	expiry := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(24 * time.Hour)
	native := &fakeChainSource{fakeQuoter: fakeQuoter{name: "native", price: 187.33},
		chain: testChain(expiry)}
	raw := &fakeChainSource{fakeQuoter: fakeQuoter{name: "raw", price: 187.33},
		chain: testChain(expiry)}
	agg := newTestAggregator(t, nil, []providers.ChainSource{native}, raw)

	chain, err := agg.GetOptionsChain(context.Background(), "AAPL", time.Time{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if chain.Provenance.Source != "native" || chain.Provenance.Cached {
		t.Errorf("provenance = %+v", chain.Provenance)
	}
	if raw.chainCallCount() != 0 {
		t.Error("raw fallback called although the native provider succeeded")
	}
	if len(chain.Calls) != 2 || len(chain.Puts) != 1 {
		t.Fatalf("got %d calls / %d puts", len(chain.Calls), len(chain.Puts))
	}
	first := chain.Calls[0]
	if first.Strike != 185 {
		t.Errorf("strike ordering lost: %v", first.Strike)
	}
	if first.Greeks.Delta <= 0 || first.Greeks.Delta >= 1 {
		t.Errorf("call delta = %v, want in (0,1)", first.Greeks.Delta)
	}
	if first.Breakeven != 185+7.25 {
		t.Errorf("breakeven = %v", first.Breakeven)
	}
	// The put reported no IV; greeks must come from the default instead.
	if chain.Puts[0].Greeks.Vega == 0 {
		t.Error("put greeks not computed under the default IV")
	}
}

func TestGetOptionsChainCachesRawChain(t *testing.T) {
	expiry := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(24 * time.Hour)
	native := &fakeChainSource{fakeQuoter: fakeQuoter{name: "native"}, chain: testChain(expiry)}
	agg := newTestAggregator(t, nil, []providers.ChainSource{native}, nil)

	if _, err := agg.GetOptionsChain(context.Background(), "AAPL", expiry, true); err != nil {
		t.Fatal(err)
	}
	chain, err := agg.GetOptionsChain(context.Background(), "AAPL", expiry, true)
	if err != nil {
		t.Fatal(err)
	}
	if !chain.Provenance.Cached {
		t.Error("second fetch not served from cache")
	}
	if native.chainCallCount() != 1 {
		t.Errorf("provider chain calls = %d, want 1", native.chainCallCount())
	}
	// Greeks are still recomputed on the cached raw chain.
	if chain.Calls[0].Greeks.Delta == 0 {
		t.Error("cached chain came back unenriched")
	}
}

func TestGetOptionsChainRawFallback(t *testing.T) {
	expiry := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(24 * time.Hour)
	native := &fakeChainSource{fakeQuoter: fakeQuoter{name: "native"}, chainErr: errUnavailable(500)}
	raw := &fakeChainSource{fakeQuoter: fakeQuoter{name: "raw"}, chain: testChain(expiry)}
	agg := newTestAggregator(t, nil, []providers.ChainSource{native}, raw)

	chain, err := agg.GetOptionsChain(context.Background(), "AAPL", time.Time{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if chain.Provenance.Source != "raw" {
		t.Errorf("source = %q, want raw", chain.Provenance.Source)
	}
	if native.chainCallCount() != 1 || raw.chainCallCount() != 1 {
		t.Errorf("chain calls native/raw = %d/%d, want 1/1",
			native.chainCallCount(), raw.chainCallCount())
	}
	if chain.Calls[0].Greeks.Delta <= 0 {
		t.Error("fallback chain not enriched")
	}
}

func TestGetOptionsChainExhausted(t *testing.T) {
	native := &fakeChainSource{fakeQuoter: fakeQuoter{name: "native"}, chainErr: errUnavailable(500)}
	raw := &fakeChainSource{fakeQuoter: fakeQuoter{name: "raw"}, chainErr: errUnavailable(502)}
	agg := newTestAggregator(t, nil, []providers.ChainSource{native}, raw)

	_, err := agg.GetOptionsChain(context.Background(), "AAPL", time.Time{}, true)
	var exhausted *apperrors.ExhaustedError
	if !apperrors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 2 ||
		exhausted.Attempts[0].Provider != "native" ||
		exhausted.Attempts[1].Provider != "raw" {
		t.Errorf("attempts = %+v", exhausted.Attempts)
	}
}

func TestGetOptionsChainWithoutRawFallback(t *testing.T) {
	native := &fakeChainSource{fakeQuoter: fakeQuoter{name: "native"}, chainErr: errUnavailable(500)}
	agg := newTestAggregator(t, nil, []providers.ChainSource{native}, nil)

	_, err := agg.GetOptionsChain(context.Background(), "AAPL", time.Time{}, true)
	var exhausted *apperrors.ExhaustedError
	if !apperrors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 1 {
		t.Errorf("attempts = %+v", exhausted.Attempts)
	}
}

func TestGetExpirations(t *testing.T) {
	e1 := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	e2 := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	native := &fakeChainSource{fakeQuoter: fakeQuoter{name: "native"}, expErr: errUnavailable(500)}
	raw := &fakeChainSource{fakeQuoter: fakeQuoter{name: "raw"}, expirations: []time.Time{e1, e2}}
	agg := newTestAggregator(t, nil, []providers.ChainSource{native}, raw)

	expirations, err := agg.GetExpirations(context.Background(), "AAPL", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(expirations) != 2 || !expirations[0].Equal(e1) || !expirations[1].Equal(e2) {
		t.Fatalf("expirations = %v", expirations)
	}

	if _, err := agg.GetExpirations(context.Background(), "AAPL", true); err != nil {
		t.Fatal(err)
	}
	if raw.expCallCount() != 1 {
		t.Errorf("raw expiration calls = %d, want 1 (second read cached)", raw.expCallCount())
	}
}

func TestHealthCheck(t *testing.T) {
	alpha := &fakeQuoter{name: "alpha", err: errUnavailable(500)}
	bravo := &fakeQuoter{name: "bravo", price: 50}
	agg := newTestAggregator(t, []providers.Quoter{alpha, bravo}, nil, nil)

	if _, err := agg.GetQuote(context.Background(), "AAPL", false); err != nil {
		t.Fatal(err)
	}

	health := agg.HealthCheck(context.Background())
	if !health.Cache.Degraded {
		t.Error("cache with unreachable remote not reported degraded")
	}
	if health.CheckedAt.IsZero() {
		t.Error("checked-at not stamped")
	}

	ah := health.Providers["alpha"]
	if ah.Calls != 1 || ah.Failures != 1 || ah.LastError == "" {
		t.Errorf("alpha health = %+v", ah)
	}
	bh := health.Providers["bravo"]
	if bh.Calls != 1 || bh.Failures != 0 || bh.LastSuccess.IsZero() {
		t.Errorf("bravo health = %+v", bh)
	}
	if bh.RequestsPerSecond != 100 {
		t.Errorf("rate limit not carried into health: %+v", bh)
	}
}
