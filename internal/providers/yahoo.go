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

const (
	yahooBaseURL = "https://query1.finance.yahoo.com"

	// Yahoo rejects the default Go user agent.
	yahooUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// Unofficial endpoints; stay polite.
var defaultYahooLimit = RateLimit{RequestsPerSecond: 2}

// Yahoo serves keyless quotes (v8 chart) and raw options chains (v7
// options: prices, volume, OI and IV but no greeks). It is the fallback
// chain source for the compute path when the native sources are exhausted.
type Yahoo struct {
	baseURL  string
	client   *http.Client
	limit    RateLimit
	throttle *throttle
	logger   zerolog.Logger
}

// NewYahoo builds the client. Yahoo needs no credentials, so it is always
// configured.
func NewYahoo(limit RateLimit, logger zerolog.Logger) *Yahoo {
	if limit == (RateLimit{}) {
		limit = defaultYahooLimit
	}
	return &Yahoo{
		baseURL:  yahooBaseURL,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		limit:    limit,
		throttle: newThrottle(limit),
		logger:   logging.WithProvider(logger, "yahoo"),
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

func (y *Yahoo) RateLimit() RateLimit { return y.limit }

// Configured is always true: the endpoints are keyless.
func (y *Yahoo) Configured() bool { return true }

func (y *Yahoo) Budget() (used, total int, resetAt time.Time) { return y.throttle.budget() }

func (y *Yahoo) prepare(req *http.Request) {
	req.Header.Set("User-Agent", yahooUserAgent)
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type yahooChartResp struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol               string  `json:"symbol"`
				RegularMarketPrice   float64 `json:"regularMarketPrice"`
				PreviousClose        float64 `json:"previousClose"`
				ChartPreviousClose   float64 `json:"chartPreviousClose"`
				RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
				RegularMarketVolume  int64   `json:"regularMarketVolume"`
				RegularMarketTime    int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Open []float64 `json:"open"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"chart"`
}

// GetQuote fetches the latest quote from the v8 chart endpoint.
func (y *Yahoo) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := y.throttle.wait(ctx); err != nil {
		return nil, apperrors.NewProviderError(y.Name(), 0, err)
	}

	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d",
		y.baseURL, url.PathEscape(strings.ToUpper(symbol)))

	var body yahooChartResp
	start := time.Now()
	err := getJSON(ctx, y.client, y.Name(), reqURL, y.prepare, &body)
	logging.LogProviderCall(y.logger, y.Name(), "/v8/finance/chart", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if body.Chart.Error != nil {
		return nil, apperrors.NewProviderError(y.Name(), 0,
			fmt.Errorf("%w: %s", apperrors.ErrNoData, body.Chart.Error.Description))
	}
	if len(body.Chart.Result) == 0 {
		return nil, apperrors.NewProviderError(y.Name(), 0, apperrors.ErrNoData)
	}

	meta := body.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return nil, apperrors.NewProviderError(y.Name(), 0, apperrors.ErrNoData)
	}

	prevClose := meta.PreviousClose
	if prevClose == 0 {
		prevClose = meta.ChartPreviousClose
	}
	change := meta.RegularMarketPrice - prevClose
	var changePct float64
	if prevClose != 0 {
		changePct = change / prevClose * 100
	}

	var open float64
	if quotes := body.Chart.Result[0].Indicators.Quote; len(quotes) > 0 && len(quotes[0].Open) > 0 {
		open = quotes[0].Open[0]
	}

	return &models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Price:         meta.RegularMarketPrice,
		Change:        change,
		ChangePercent: changePct,
		Volume:        meta.RegularMarketVolume,
		High:          meta.RegularMarketDayHigh,
		Low:           meta.RegularMarketDayLow,
		Open:          open,
		PrevClose:     prevClose,
		Timestamp:     time.Unix(meta.RegularMarketTime, 0).UTC(),
		Source:        y.Name(),
	}, nil
}

type yahooOptionContract struct {
	ContractSymbol    string  `json:"contractSymbol"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"lastPrice"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	Expiration        int64   `json:"expiration"`
}

type yahooOptionsResp struct {
	OptionChain struct {
		Result []struct {
			UnderlyingSymbol string  `json:"underlyingSymbol"`
			ExpirationDates  []int64 `json:"expirationDates"`
			Quote            struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"quote"`
			Options []struct {
				ExpirationDate int64                 `json:"expirationDate"`
				Calls          []yahooOptionContract `json:"calls"`
				Puts           []yahooOptionContract `json:"puts"`
			} `json:"options"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"optionChain"`
}

// GetOptionsChain fetches the v7 options chain. A zero expiry returns the
// front expiration, matching the endpoint's default.
func (y *Yahoo) GetOptionsChain(ctx context.Context, symbol string, expiry time.Time) (*models.OptionsChain, error) {
	if err := y.throttle.wait(ctx); err != nil {
		return nil, apperrors.NewProviderError(y.Name(), 0, err)
	}

	upper := strings.ToUpper(symbol)
	reqURL := fmt.Sprintf("%s/v7/finance/options/%s", y.baseURL, url.PathEscape(upper))
	if !expiry.IsZero() {
		reqURL += fmt.Sprintf("?date=%d", expiry.UTC().Unix())
	}

	var body yahooOptionsResp
	start := time.Now()
	err := getJSON(ctx, y.client, y.Name(), reqURL, y.prepare, &body)
	logging.LogProviderCall(y.logger, y.Name(), "/v7/finance/options", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if body.OptionChain.Error != nil {
		return nil, apperrors.NewProviderError(y.Name(), 0,
			fmt.Errorf("%w: %s", apperrors.ErrNoData, body.OptionChain.Error.Description))
	}
	if len(body.OptionChain.Result) == 0 {
		return nil, apperrors.NewProviderError(y.Name(), 0, apperrors.ErrNoData)
	}

	result := body.OptionChain.Result[0]
	chain := &models.OptionsChain{
		Symbol:          upper,
		UnderlyingPrice: result.Quote.RegularMarketPrice,
	}
	for _, ts := range result.ExpirationDates {
		chain.Expirations = append(chain.Expirations, expiryDate(ts))
	}
	for _, opt := range result.Options {
		for _, c := range opt.Calls {
			chain.Calls = append(chain.Calls, y.mapContract(c, upper, models.Call))
		}
		for _, p := range opt.Puts {
			chain.Puts = append(chain.Puts, y.mapContract(p, upper, models.Put))
		}
	}

	if len(chain.Calls) == 0 && len(chain.Puts) == 0 {
		return nil, apperrors.NewProviderError(y.Name(), 0, apperrors.ErrNoData)
	}
	chain.SortContracts()

	return chain, nil
}

// GetExpirations lists the available expiration dates.
func (y *Yahoo) GetExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	if err := y.throttle.wait(ctx); err != nil {
		return nil, apperrors.NewProviderError(y.Name(), 0, err)
	}

	reqURL := fmt.Sprintf("%s/v7/finance/options/%s", y.baseURL, url.PathEscape(strings.ToUpper(symbol)))

	var body yahooOptionsResp
	start := time.Now()
	err := getJSON(ctx, y.client, y.Name(), reqURL, y.prepare, &body)
	logging.LogProviderCall(y.logger, y.Name(), "/v7/finance/options", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if body.OptionChain.Error != nil {
		return nil, apperrors.NewProviderError(y.Name(), 0,
			fmt.Errorf("%w: %s", apperrors.ErrNoData, body.OptionChain.Error.Description))
	}
	if len(body.OptionChain.Result) == 0 || len(body.OptionChain.Result[0].ExpirationDates) == 0 {
		return nil, apperrors.NewProviderError(y.Name(), 0, apperrors.ErrNoData)
	}

	dates := body.OptionChain.Result[0].ExpirationDates
	expirations := make([]time.Time, 0, len(dates))
	for _, ts := range dates {
		expirations = append(expirations, expiryDate(ts))
	}
	return expirations, nil
}

func (y *Yahoo) mapContract(c yahooOptionContract, underlying string, typ models.OptionType) models.RawOptionContract {
	return models.RawOptionContract{
		Symbol:            c.ContractSymbol,
		Underlying:        underlying,
		Strike:            c.Strike,
		Expiry:            expiryDate(c.Expiration),
		Type:              typ,
		Bid:               c.Bid,
		Ask:               c.Ask,
		Last:              c.LastPrice,
		Volume:            c.Volume,
		OpenInterest:      c.OpenInterest,
		ImpliedVolatility: c.ImpliedVolatility,
	}
}

// expiryDate normalizes an expiration unix stamp to midnight UTC so cache
// keys and comparisons are uniform across providers.
func expiryDate(ts int64) time.Time {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
