package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "optionscope/internal/errors"
	"optionscope/internal/logging"
	"optionscope/internal/models"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// Free tier allows 60 calls per minute with no daily cap.
var defaultFinnhubLimit = RateLimit{RequestsPerSecond: 1}

// Finnhub serves real-time stock quotes from finnhub.io. It has no options
// chain capability.
type Finnhub struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	limit    RateLimit
	throttle *throttle
	logger   zerolog.Logger
}

// NewFinnhub builds the client. A missing key is not an error here; calls
// fail fast with ErrNotConfigured instead.
func NewFinnhub(apiKey string, limit RateLimit, logger zerolog.Logger) *Finnhub {
	if limit == (RateLimit{}) {
		limit = defaultFinnhubLimit
	}
	return &Finnhub{
		apiKey:   apiKey,
		baseURL:  finnhubBaseURL,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		limit:    limit,
		throttle: newThrottle(limit),
		logger:   logging.WithProvider(logger, "finnhub"),
	}
}

func (f *Finnhub) Name() string { return "finnhub" }

func (f *Finnhub) RateLimit() RateLimit { return f.limit }

func (f *Finnhub) Configured() bool { return f.apiKey != "" }

func (f *Finnhub) Budget() (used, total int, resetAt time.Time) { return f.throttle.budget() }

type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PrevClose     float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// GetQuote fetches the latest quote for symbol.
func (f *Finnhub) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if f.apiKey == "" {
		return nil, apperrors.NewProviderError(f.Name(), 0, apperrors.ErrNotConfigured)
	}
	if err := f.throttle.wait(ctx); err != nil {
		return nil, apperrors.NewProviderError(f.Name(), 0, err)
	}

	reqURL := fmt.Sprintf("%s/quote?symbol=%s", f.baseURL, url.QueryEscape(symbol))

	var body finnhubQuote
	start := time.Now()
	err := getJSON(ctx, f.client, f.Name(), reqURL, func(req *http.Request) {
		req.Header.Set("X-Finnhub-Token", f.apiKey)
	}, &body)
	logging.LogProviderCall(f.logger, f.Name(), "/quote", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	// Finnhub answers unknown symbols with an all-zero body instead of a 404.
	if body.Current == 0 && body.Timestamp == 0 {
		return nil, apperrors.NewProviderError(f.Name(), 0, apperrors.ErrNoData)
	}

	return &models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Price:         body.Current,
		Change:        body.Change,
		ChangePercent: body.ChangePercent,
		High:          body.High,
		Low:           body.Low,
		Open:          body.Open,
		PrevClose:     body.PrevClose,
		Timestamp:     time.Unix(body.Timestamp, 0).UTC(),
		Source:        f.Name(),
	}, nil
}
