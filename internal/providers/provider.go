// Package providers contains the external market-data clients. Each adapter
// maps one vendor's wire schema onto the shared models, self-throttles to its
// declared rate limit, and reports failures through the shared error
// taxonomy so the fallback chain can classify them.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "optionscope/internal/errors"
	"optionscope/internal/models"
)

const defaultHTTPTimeout = 10 * time.Second

// RateLimit declares a client's self-imposed request budget.
type RateLimit struct {
	RequestsPerSecond float64
	RequestsPerDay    int
}

// Quoter is the minimum capability every provider exposes.
type Quoter interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
	RateLimit() RateLimit
}

// ChainSource is implemented by providers that can serve options chains.
// A zero expiry asks for the front expiration.
type ChainSource interface {
	Quoter
	GetOptionsChain(ctx context.Context, symbol string, expiry time.Time) (*models.OptionsChain, error)
	GetExpirations(ctx context.Context, symbol string) ([]time.Time, error)
}

// StatusReporter is implemented by adapters that expose credential and
// daily-budget state for health reporting.
type StatusReporter interface {
	Configured() bool
	Budget() (used, total int, resetAt time.Time)
}

// throttle paces a client to its declared limit: a minimum inter-request
// interval derived from RequestsPerSecond, plus a daily budget that resets
// 24 hours after first use. Concurrent callers reserve pacing slots in
// arrival order.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	dailyCap int
	used     int
	resetAt  time.Time
	last     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newThrottle(limit RateLimit) *throttle {
	t := &throttle{
		dailyCap: limit.RequestsPerDay,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	if limit.RequestsPerSecond > 0 {
		t.interval = time.Duration(float64(time.Second) / limit.RequestsPerSecond)
	}
	return t
}

// wait blocks until the client may issue its next request. It fails fast
// with ErrRateLimited once the daily budget is spent.
func (t *throttle) wait(ctx context.Context) error {
	t.mu.Lock()
	now := t.now()

	if t.dailyCap > 0 {
		if t.resetAt.IsZero() || now.After(t.resetAt) {
			t.used = 0
			t.resetAt = now.Add(24 * time.Hour)
		}
		if t.used >= t.dailyCap {
			t.mu.Unlock()
			return fmt.Errorf("%w: daily budget of %d requests spent", apperrors.ErrRateLimited, t.dailyCap)
		}
		t.used++
	}

	var pause time.Duration
	if t.interval > 0 && !t.last.IsZero() {
		if elapsed := now.Sub(t.last); elapsed < t.interval {
			pause = t.interval - elapsed
		}
	}
	t.last = now.Add(pause)
	t.mu.Unlock()

	if pause > 0 {
		return t.sleep(ctx, pause)
	}
	return nil
}

// budget reports daily budget usage for health reporting.
func (t *throttle) budget() (used, total int, resetAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used, t.dailyCap, t.resetAt
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// getJSON issues a GET decorated by prepare, maps the response through the
// error taxonomy, and decodes the body into dest.
func getJSON(ctx context.Context, client *http.Client, provider, url string, prepare func(*http.Request), dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.NewProviderError(provider, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if prepare != nil {
		prepare(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return apperrors.NewProviderError(provider, 0, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, redactErr(err)))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewProviderError(provider, resp.StatusCode, apperrors.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// A key rejected server-side reads the same as an outage to callers.
		return apperrors.NewProviderError(provider, resp.StatusCode, fmt.Errorf("%w: key rejected", apperrors.ErrUnavailable))
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewProviderError(provider, resp.StatusCode, apperrors.ErrNoData)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewProviderError(provider, resp.StatusCode,
			fmt.Errorf("%w: %s", apperrors.ErrUnavailable, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return apperrors.NewProviderError(provider, resp.StatusCode,
			fmt.Errorf("%w: undecodable body: %v", apperrors.ErrUnavailable, err))
	}
	return nil
}

// sensitiveParams are query keys whose values must never reach logs or
// health reports.
var sensitiveParams = []string{"apikey", "api_key", "token"}

// redactErr scrubs credential-bearing query values from transport errors.
// A dial or TLS failure carries the full request URL, query string included.
func redactErr(err error) error {
	var uerr *url.Error
	if !apperrors.As(err, &uerr) {
		return err
	}
	return fmt.Errorf("%s %s: %v", uerr.Op, redactURL(uerr.URL), uerr.Err)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, k := range sensitiveParams {
		if q.Has(k) {
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
