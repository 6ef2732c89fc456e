package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "optionscope/internal/errors"
	"optionscope/internal/logging"
	"optionscope/internal/models"
)

const twelveDataBaseURL = "https://api.twelvedata.com"

// Free tier allows 8 calls per minute and 800 per day.
var defaultTwelveDataLimit = RateLimit{RequestsPerSecond: 8.0 / 60.0, RequestsPerDay: 800}

// TwelveData serves stock quotes from twelvedata.com. The API keys into the
// query string and reports every number as a string.
type TwelveData struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	limit    RateLimit
	throttle *throttle
	logger   zerolog.Logger
}

// NewTwelveData builds the client. A missing key is not an error here; calls
// fail fast with ErrNotConfigured instead.
func NewTwelveData(apiKey string, limit RateLimit, logger zerolog.Logger) *TwelveData {
	if limit == (RateLimit{}) {
		limit = defaultTwelveDataLimit
	}
	return &TwelveData{
		apiKey:   apiKey,
		baseURL:  twelveDataBaseURL,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		limit:    limit,
		throttle: newThrottle(limit),
		logger:   logging.WithProvider(logger, "twelvedata"),
	}
}

func (t *TwelveData) Name() string { return "twelvedata" }

func (t *TwelveData) RateLimit() RateLimit { return t.limit }

func (t *TwelveData) Configured() bool { return t.apiKey != "" }

func (t *TwelveData) Budget() (used, total int, resetAt time.Time) { return t.throttle.budget() }

// twelveDataQuote doubles as the success and the embedded-error shape; the
// API reports failures as {"code":429,"status":"error",...} on HTTP 200.
type twelveDataQuote struct {
	Symbol        string `json:"symbol"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	PreviousClose string `json:"previous_close"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
	Timestamp     int64  `json:"timestamp"`

	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GetQuote fetches the latest quote for symbol.
func (t *TwelveData) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if t.apiKey == "" {
		return nil, apperrors.NewProviderError(t.Name(), 0, apperrors.ErrNotConfigured)
	}
	if err := t.throttle.wait(ctx); err != nil {
		return nil, apperrors.NewProviderError(t.Name(), 0, err)
	}

	reqURL := fmt.Sprintf("%s/quote?symbol=%s&apikey=%s",
		t.baseURL, url.QueryEscape(symbol), url.QueryEscape(t.apiKey))

	var body twelveDataQuote
	start := time.Now()
	err := getJSON(ctx, t.client, t.Name(), reqURL, nil, &body)
	logging.LogProviderCall(t.logger, t.Name(), "/quote", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if body.Status == "error" || body.Code != 0 {
		return nil, t.mapEmbeddedError(body)
	}

	price, err := strconv.ParseFloat(body.Close, 64)
	if err != nil {
		return nil, apperrors.NewProviderError(t.Name(), 0,
			fmt.Errorf("%w: bad close %q", apperrors.ErrUnavailable, body.Close))
	}

	return &models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Price:         price,
		Change:        lenientFloat(body.Change),
		ChangePercent: lenientFloat(body.PercentChange),
		Volume:        int64(lenientFloat(body.Volume)),
		High:          lenientFloat(body.High),
		Low:           lenientFloat(body.Low),
		Open:          lenientFloat(body.Open),
		PrevClose:     lenientFloat(body.PreviousClose),
		Timestamp:     time.Unix(body.Timestamp, 0).UTC(),
		Source:        t.Name(),
	}, nil
}

func (t *TwelveData) mapEmbeddedError(body twelveDataQuote) error {
	switch body.Code {
	case http.StatusTooManyRequests:
		return apperrors.NewProviderError(t.Name(), body.Code, apperrors.ErrRateLimited)
	case http.StatusBadRequest, http.StatusNotFound:
		return apperrors.NewProviderError(t.Name(), body.Code,
			fmt.Errorf("%w: %s", apperrors.ErrNoData, body.Message))
	default:
		return apperrors.NewProviderError(t.Name(), body.Code,
			fmt.Errorf("%w: %s", apperrors.ErrUnavailable, body.Message))
	}
}

// lenientFloat parses optional numeric strings, treating blanks and garbage
// as zero.
func lenientFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}
