package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"

	apperrors "optionscope/internal/errors"
	"optionscope/internal/logging"
	"optionscope/internal/models"
	"optionscope/pkg/occ"
)

const (
	alpacaDataBaseURL = "https://data.alpaca.markets"
	alpacaMaxPages    = 10
	alpacaPageSize    = 1000
)

// Basic plan allows 200 requests per minute.
var defaultAlpacaLimit = RateLimit{RequestsPerSecond: 3}

// alpacaSnapshotClient is the slice of the marketdata SDK the quote path
// needs; tests stand in a fake.
type alpacaSnapshotClient interface {
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
}

// Alpaca serves stock snapshot quotes through the official marketdata SDK
// and options chains through the v1beta1 options REST endpoints, which the
// SDK does not cover. Option snapshots key on OCC symbols.
type Alpaca struct {
	keyID     string
	secretKey string
	baseURL   string
	md        alpacaSnapshotClient
	client    *http.Client
	limit     RateLimit
	throttle  *throttle
	logger    zerolog.Logger
}

// NewAlpaca builds the client. Missing credentials are not an error here;
// calls fail fast with ErrNotConfigured instead.
func NewAlpaca(keyID, secretKey string, limit RateLimit, logger zerolog.Logger) *Alpaca {
	if limit == (RateLimit{}) {
		limit = defaultAlpacaLimit
	}
	a := &Alpaca{
		keyID:     keyID,
		secretKey: secretKey,
		baseURL:   alpacaDataBaseURL,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		limit:     limit,
		throttle:  newThrottle(limit),
		logger:    logging.WithProvider(logger, "alpaca"),
	}
	if a.Configured() {
		a.md = marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    keyID,
			APISecret: secretKey,
		})
	}
	return a
}

func (a *Alpaca) Name() string { return "alpaca" }

func (a *Alpaca) RateLimit() RateLimit { return a.limit }

func (a *Alpaca) Configured() bool { return a.keyID != "" && a.secretKey != "" }

func (a *Alpaca) Budget() (used, total int, resetAt time.Time) { return a.throttle.budget() }

func (a *Alpaca) authorize(req *http.Request) {
	req.Header.Set("APCA-API-KEY-ID", a.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.secretKey)
}

// GetQuote fetches the stock snapshot for symbol through the SDK.
func (a *Alpaca) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !a.Configured() {
		return nil, apperrors.NewProviderError(a.Name(), 0, apperrors.ErrNotConfigured)
	}
	if err := a.throttle.wait(ctx); err != nil {
		return nil, apperrors.NewProviderError(a.Name(), 0, err)
	}
	// The SDK's methods carry no context; honor cancellation up front.
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewProviderError(a.Name(), 0, err)
	}

	upper := strings.ToUpper(symbol)
	start := time.Now()
	snap, err := a.md.GetSnapshot(upper, marketdata.GetSnapshotRequest{})
	logging.LogProviderCall(a.logger, a.Name(), "/v2/stocks/snapshot", time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewProviderError(a.Name(), 0,
			fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err))
	}
	if snap == nil || (snap.LatestTrade == nil && snap.DailyBar == nil) {
		return nil, apperrors.NewProviderError(a.Name(), 0, apperrors.ErrNoData)
	}

	quote := &models.Quote{
		Symbol:    upper,
		Timestamp: time.Now().UTC(),
		Source:    a.Name(),
	}
	if snap.LatestTrade != nil {
		quote.Price = snap.LatestTrade.Price
		quote.Timestamp = snap.LatestTrade.Timestamp.UTC()
	}
	if snap.DailyBar != nil {
		if quote.Price == 0 {
			quote.Price = snap.DailyBar.Close
		}
		quote.Open = snap.DailyBar.Open
		quote.High = snap.DailyBar.High
		quote.Low = snap.DailyBar.Low
		quote.Volume = int64(snap.DailyBar.Volume)
	}
	if snap.PrevDailyBar != nil {
		quote.PrevClose = snap.PrevDailyBar.Close
		if quote.PrevClose != 0 {
			quote.Change = quote.Price - quote.PrevClose
			quote.ChangePercent = quote.Change / quote.PrevClose * 100
		}
	}
	if quote.Price == 0 {
		return nil, apperrors.NewProviderError(a.Name(), 0, apperrors.ErrNoData)
	}

	return quote, nil
}

type alpacaChainPage struct {
	Snapshots map[string]struct {
		LatestQuote struct {
			BidPrice float64 `json:"bp"`
			AskPrice float64 `json:"ap"`
		} `json:"latestQuote"`
		LatestTrade struct {
			Price float64 `json:"p"`
		} `json:"latestTrade"`
		DailyBar struct {
			Volume float64 `json:"v"`
		} `json:"dailyBar"`
		ImpliedVolatility float64 `json:"impliedVolatility"`
	} `json:"snapshots"`
	NextPageToken string `json:"next_page_token"`
}

// GetOptionsChain fetches option snapshots for the underlying and decodes
// the OCC symbol keys into contracts. A zero expiry returns every available
// contract. The underlying price rides in from a follow-up stock snapshot;
// without it the chain cannot be enriched, so that failure fails the call.
func (a *Alpaca) GetOptionsChain(ctx context.Context, symbol string, expiry time.Time) (*models.OptionsChain, error) {
	if !a.Configured() {
		return nil, apperrors.NewProviderError(a.Name(), 0, apperrors.ErrNotConfigured)
	}

	upper := strings.ToUpper(symbol)
	base := fmt.Sprintf("%s/v1beta1/options/snapshots/%s?limit=%d",
		a.baseURL, url.PathEscape(upper), alpacaPageSize)
	if !expiry.IsZero() {
		base += "&expiration_date=" + expiry.Format("2006-01-02")
	}

	chain := &models.OptionsChain{Symbol: upper}
	seenExpiry := make(map[time.Time]bool)

	pageToken := ""
	for page := 0; page < alpacaMaxPages; page++ {
		if err := a.throttle.wait(ctx); err != nil {
			return nil, apperrors.NewProviderError(a.Name(), 0, err)
		}

		reqURL := base
		if pageToken != "" {
			reqURL += "&page_token=" + url.QueryEscape(pageToken)
		}

		var body alpacaChainPage
		start := time.Now()
		err := getJSON(ctx, a.client, a.Name(), reqURL, a.authorize, &body)
		logging.LogProviderCall(a.logger, a.Name(), "/v1beta1/options/snapshots", time.Since(start), err)
		if err != nil {
			return nil, err
		}

		for occSymbol, snap := range body.Snapshots {
			parsed, err := occ.Parse(occSymbol)
			if err != nil {
				a.logger.Debug().Str("contract", occSymbol).Msg("Skipping unparsable option symbol")
				continue
			}

			contract := models.RawOptionContract{
				Symbol:            occSymbol,
				Underlying:        upper,
				Strike:            parsed.Strike,
				Expiry:            parsed.Expiry,
				Type:              models.Put,
				Bid:               snap.LatestQuote.BidPrice,
				Ask:               snap.LatestQuote.AskPrice,
				Last:              snap.LatestTrade.Price,
				Volume:            int64(snap.DailyBar.Volume),
				ImpliedVolatility: snap.ImpliedVolatility,
			}
			if parsed.Call {
				contract.Type = models.Call
				chain.Calls = append(chain.Calls, contract)
			} else {
				chain.Puts = append(chain.Puts, contract)
			}
			seenExpiry[parsed.Expiry] = true
		}

		if body.NextPageToken == "" {
			break
		}
		pageToken = body.NextPageToken
	}

	if len(chain.Calls) == 0 && len(chain.Puts) == 0 {
		return nil, apperrors.NewProviderError(a.Name(), 0, apperrors.ErrNoData)
	}

	underlying, err := a.GetQuote(ctx, upper)
	if err != nil {
		return nil, apperrors.NewProviderError(a.Name(), 0,
			fmt.Errorf("underlying price for chain: %w", err))
	}
	chain.UnderlyingPrice = underlying.Price

	for exp := range seenExpiry {
		chain.Expirations = append(chain.Expirations, exp)
	}
	chain.SortContracts()

	return chain, nil
}

type alpacaContractsPage struct {
	OptionContracts []struct {
		ExpirationDate string `json:"expiration_date"`
	} `json:"option_contracts"`
	NextPageToken string `json:"next_page_token"`
}

// GetExpirations lists the distinct expiration dates of listed contracts.
func (a *Alpaca) GetExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	if !a.Configured() {
		return nil, apperrors.NewProviderError(a.Name(), 0, apperrors.ErrNotConfigured)
	}

	base := fmt.Sprintf("%s/v1beta1/options/contracts?underlying_symbols=%s&limit=%d",
		a.baseURL, url.QueryEscape(strings.ToUpper(symbol)), alpacaPageSize)

	seen := make(map[string]time.Time)
	pageToken := ""
	for page := 0; page < alpacaMaxPages; page++ {
		if err := a.throttle.wait(ctx); err != nil {
			return nil, apperrors.NewProviderError(a.Name(), 0, err)
		}

		reqURL := base
		if pageToken != "" {
			reqURL += "&page_token=" + url.QueryEscape(pageToken)
		}

		var body alpacaContractsPage
		start := time.Now()
		err := getJSON(ctx, a.client, a.Name(), reqURL, a.authorize, &body)
		logging.LogProviderCall(a.logger, a.Name(), "/v1beta1/options/contracts", time.Since(start), err)
		if err != nil {
			return nil, err
		}
		for _, c := range body.OptionContracts {
			if exp, err := time.Parse("2006-01-02", c.ExpirationDate); err == nil {
				seen[c.ExpirationDate] = exp
			}
		}

		if body.NextPageToken == "" {
			break
		}
		pageToken = body.NextPageToken
	}

	if len(seen) == 0 {
		return nil, apperrors.NewProviderError(a.Name(), 0, apperrors.ErrNoData)
	}

	expirations := make([]time.Time, 0, len(seen))
	for _, exp := range seen {
		expirations = append(expirations, exp)
	}
	sort.Slice(expirations, func(i, j int) bool { return expirations[i].Before(expirations[j]) })
	return expirations, nil
}
