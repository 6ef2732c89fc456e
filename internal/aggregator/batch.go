package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"optionscope/internal/models"
)

// BatchQuotes fetches quotes for many symbols, a fixed-size batch at a time.
// Symbols within a batch fetch concurrently through GetQuote; an inter-batch
// delay keeps the aggregate request rate inside provider limits. The result
// maps normalized symbols to quotes and holds whatever subset succeeded:
// partial results are the contract, never an error. Callers correlate by
// symbol, not input position.
func (a *Aggregator) BatchQuotes(ctx context.Context, symbols []string, useCache bool) map[string]*models.Quote {
	results := make(map[string]*models.Quote, len(symbols))
	if len(symbols) == 0 {
		return results
	}

	batchSize := a.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	var mu sync.Mutex
	for start := 0; start < len(symbols); start += batchSize {
		if start > 0 && !a.pause(ctx, a.cfg.BatchDelay()) {
			break
		}

		end := start + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		p := pool.New().WithMaxGoroutines(batchSize)
		for _, symbol := range symbols[start:end] {
			p.Go(func() {
				quote, err := a.GetQuote(ctx, symbol, useCache)
				if err != nil {
					a.logger.Warn().
						Str("symbol", symbol).
						Err(err).
						Msg("Batch quote failed, omitting symbol")
					return
				}
				mu.Lock()
				results[quote.Symbol] = quote
				mu.Unlock()
			})
		}
		p.Wait()

		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// pause sleeps between batches, reporting false when the caller went away.
func (a *Aggregator) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
