package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "optionscope/internal/errors"
	"optionscope/internal/providers"
)

// gauge tracks the peak number of concurrent calls through a fake.
type gauge struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (g *gauge) enter() {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()
}

func (g *gauge) exit() {
	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
}

func (g *gauge) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func TestBatchQuotesPartialSuccess(t *testing.T) {
	alpha := &fakeQuoter{name: "alpha", price: 10, failFor: map[string]error{
		"GAMMA": errUnavailable(500),
	}}
	agg := newTestAggregator(t, []providers.Quoter{alpha}, nil, nil)

	symbols := []string{"AAPL", "MSFT", "GAMMA", "NVDA", "AMD"}
	results := agg.BatchQuotes(context.Background(), symbols, true)

	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	if _, ok := results["GAMMA"]; ok {
		t.Error("failed symbol present in results")
	}
	for _, sym := range []string{"AAPL", "MSFT", "NVDA", "AMD"} {
		q, ok := results[sym]
		if !ok {
			t.Errorf("missing %s", sym)
			continue
		}
		if q.Price != 10 || q.Source != "alpha" {
			t.Errorf("%s = %+v", sym, q)
		}
	}
}

func TestBatchQuotesEmptyInput(t *testing.T) {
	agg := newTestAggregator(t, []providers.Quoter{&fakeQuoter{name: "alpha", price: 1}}, nil, nil)

	results := agg.BatchQuotes(context.Background(), nil, true)
	if results == nil || len(results) != 0 {
		t.Fatalf("results = %v, want empty map", results)
	}
}

func TestBatchQuotesNormalizesKeys(t *testing.T) {
	alpha := &fakeQuoter{name: "alpha", price: 5}
	agg := newTestAggregator(t, []providers.Quoter{alpha}, nil, nil)

	results := agg.BatchQuotes(context.Background(), []string{"aapl", " msft "}, true)
	if _, ok := results["AAPL"]; !ok {
		t.Errorf("results keyed %v, want normalized symbols", results)
	}
	if _, ok := results["MSFT"]; !ok {
		t.Errorf("results keyed %v, want normalized symbols", results)
	}
}

func TestBatchQuotesBoundedConcurrency(t *testing.T) {
	g := &gauge{}
	alpha := &fakeQuoter{name: "alpha", price: 10}
	alpha.onCall = func() {
		g.enter()
		time.Sleep(5 * time.Millisecond)
		g.exit()
	}
	agg := newTestAggregator(t, []providers.Quoter{alpha}, nil, nil)

	symbols := []string{"A", "B", "C", "D", "E", "F"}
	results := agg.BatchQuotes(context.Background(), symbols, false)

	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}
	if g.max() > 2 {
		t.Errorf("peak concurrency = %d, want at most the batch size 2", g.max())
	}
}

func TestBatchQuotesCanceledReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	alpha := &fakeQuoter{name: "alpha", price: 10}
	alpha.onCall = cancel // cancel during the first batch
	agg := newTestAggregator(t, []providers.Quoter{alpha}, nil, nil)

	results := agg.BatchQuotes(ctx, []string{"A", "B", "C", "D", "E", "F"}, false)

	if len(results) > 2 {
		t.Errorf("got %d results after cancellation in batch one, want at most 2", len(results))
	}
	if alpha.callCount() > 2 {
		t.Errorf("provider calls = %d, want no batches after cancellation", alpha.callCount())
	}
}

func TestBatchQuotesAllProvidersDown(t *testing.T) {
	alpha := &fakeQuoter{name: "alpha",
		err: apperrors.NewProviderError("alpha", 429, apperrors.ErrRateLimited)}
	agg := newTestAggregator(t, []providers.Quoter{alpha}, nil, nil)

	results := agg.BatchQuotes(context.Background(), []string{"AAPL", "MSFT"}, true)
	if len(results) != 0 {
		t.Fatalf("results = %v, want none", results)
	}
}
