package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "optionscope/internal/errors"
	"optionscope/internal/logging"
	"optionscope/internal/models"
)

const (
	polygonBaseURL = "https://api.polygon.io"

	// Chain snapshots paginate through next_url; cap the walk so one chain
	// request cannot eat the whole rate budget.
	polygonMaxPages = 10
	polygonPageSize = 250
)

// Free tier allows 5 calls per minute.
var defaultPolygonLimit = RateLimit{RequestsPerSecond: 5.0 / 60.0}

// Polygon serves stock snapshot quotes and a native options chain, IV
// included, from polygon.io.
type Polygon struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	limit    RateLimit
	throttle *throttle
	logger   zerolog.Logger
}

// NewPolygon builds the client. A missing key is not an error here; calls
// fail fast with ErrNotConfigured instead.
func NewPolygon(apiKey string, limit RateLimit, logger zerolog.Logger) *Polygon {
	if limit == (RateLimit{}) {
		limit = defaultPolygonLimit
	}
	return &Polygon{
		apiKey:   apiKey,
		baseURL:  polygonBaseURL,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		limit:    limit,
		throttle: newThrottle(limit),
		logger:   logging.WithProvider(logger, "polygon"),
	}
}

func (p *Polygon) Name() string { return "polygon" }

func (p *Polygon) RateLimit() RateLimit { return p.limit }

func (p *Polygon) Configured() bool { return p.apiKey != "" }

func (p *Polygon) Budget() (used, total int, resetAt time.Time) { return p.throttle.budget() }

func (p *Polygon) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

type polygonSnapshot struct {
	Status string `json:"status"`
	Ticker struct {
		Ticker           string  `json:"ticker"`
		TodaysChange     float64 `json:"todaysChange"`
		TodaysChangePerc float64 `json:"todaysChangePerc"`
		Updated          int64   `json:"updated"`
		Day              struct {
			Open   float64 `json:"o"`
			High   float64 `json:"h"`
			Low    float64 `json:"l"`
			Close  float64 `json:"c"`
			Volume float64 `json:"v"`
		} `json:"day"`
		PrevDay struct {
			Close float64 `json:"c"`
		} `json:"prevDay"`
		LastTrade struct {
			Price float64 `json:"p"`
		} `json:"lastTrade"`
	} `json:"ticker"`
}

// GetQuote fetches the v2 market snapshot for symbol.
func (p *Polygon) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if p.apiKey == "" {
		return nil, apperrors.NewProviderError(p.Name(), 0, apperrors.ErrNotConfigured)
	}
	if err := p.throttle.wait(ctx); err != nil {
		return nil, apperrors.NewProviderError(p.Name(), 0, err)
	}

	reqURL := fmt.Sprintf("%s/v2/snapshot/locale/us/markets/stocks/tickers/%s",
		p.baseURL, url.PathEscape(strings.ToUpper(symbol)))

	var body polygonSnapshot
	start := time.Now()
	err := getJSON(ctx, p.client, p.Name(), reqURL, p.authorize, &body)
	logging.LogProviderCall(p.logger, p.Name(), "/v2/snapshot", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	tk := body.Ticker
	price := tk.LastTrade.Price
	if price == 0 {
		price = tk.Day.Close
	}
	if price == 0 {
		return nil, apperrors.NewProviderError(p.Name(), 0, apperrors.ErrNoData)
	}

	ts := time.Now().UTC()
	if tk.Updated > 0 {
		ts = time.Unix(0, tk.Updated).UTC()
	}

	return &models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Price:         price,
		Change:        tk.TodaysChange,
		ChangePercent: tk.TodaysChangePerc,
		Volume:        int64(tk.Day.Volume),
		High:          tk.Day.High,
		Low:           tk.Day.Low,
		Open:          tk.Day.Open,
		PrevClose:     tk.PrevDay.Close,
		Timestamp:     ts,
		Source:        p.Name(),
	}, nil
}

type polygonChainPage struct {
	Status  string `json:"status"`
	NextURL string `json:"next_url"`
	Results []struct {
		Details struct {
			Ticker         string  `json:"ticker"`
			StrikePrice    float64 `json:"strike_price"`
			ExpirationDate string  `json:"expiration_date"`
			ContractType   string  `json:"contract_type"`
		} `json:"details"`
		LastQuote struct {
			Bid float64 `json:"bid"`
			Ask float64 `json:"ask"`
		} `json:"last_quote"`
		LastTrade struct {
			Price float64 `json:"price"`
		} `json:"last_trade"`
		Day struct {
			Volume float64 `json:"volume"`
		} `json:"day"`
		OpenInterest      float64 `json:"open_interest"`
		ImpliedVolatility float64 `json:"implied_volatility"`
		UnderlyingAsset   struct {
			Price float64 `json:"price"`
		} `json:"underlying_asset"`
	} `json:"results"`
}

// GetOptionsChain fetches the v3 options snapshot for symbol, walking
// pagination. A zero expiry returns every available contract.
func (p *Polygon) GetOptionsChain(ctx context.Context, symbol string, expiry time.Time) (*models.OptionsChain, error) {
	if p.apiKey == "" {
		return nil, apperrors.NewProviderError(p.Name(), 0, apperrors.ErrNotConfigured)
	}

	upper := strings.ToUpper(symbol)
	reqURL := fmt.Sprintf("%s/v3/snapshot/options/%s?limit=%d", p.baseURL, url.PathEscape(upper), polygonPageSize)
	if !expiry.IsZero() {
		reqURL += "&expiration_date=" + expiry.Format("2006-01-02")
	}

	chain := &models.OptionsChain{Symbol: upper}
	seenExpiry := make(map[string]time.Time)

	for page := 0; reqURL != "" && page < polygonMaxPages; page++ {
		if err := p.throttle.wait(ctx); err != nil {
			return nil, apperrors.NewProviderError(p.Name(), 0, err)
		}

		var body polygonChainPage
		start := time.Now()
		err := getJSON(ctx, p.client, p.Name(), reqURL, p.authorize, &body)
		logging.LogProviderCall(p.logger, p.Name(), "/v3/snapshot/options", time.Since(start), err)
		if err != nil {
			return nil, err
		}

		for _, res := range body.Results {
			exp, err := time.Parse("2006-01-02", res.Details.ExpirationDate)
			if err != nil {
				continue
			}
			seenExpiry[res.Details.ExpirationDate] = exp

			contract := models.RawOptionContract{
				Symbol:            strings.TrimPrefix(res.Details.Ticker, "O:"),
				Underlying:        upper,
				Strike:            res.Details.StrikePrice,
				Expiry:            exp,
				Type:              models.OptionType(res.Details.ContractType),
				Bid:               res.LastQuote.Bid,
				Ask:               res.LastQuote.Ask,
				Last:              res.LastTrade.Price,
				Volume:            int64(res.Day.Volume),
				OpenInterest:      int64(res.OpenInterest),
				ImpliedVolatility: res.ImpliedVolatility,
			}
			if !contract.Type.IsValid() {
				continue
			}
			if chain.UnderlyingPrice == 0 {
				chain.UnderlyingPrice = res.UnderlyingAsset.Price
			}
			if contract.Type == models.Call {
				chain.Calls = append(chain.Calls, contract)
			} else {
				chain.Puts = append(chain.Puts, contract)
			}
		}

		reqURL = body.NextURL
	}

	if len(chain.Calls) == 0 && len(chain.Puts) == 0 {
		return nil, apperrors.NewProviderError(p.Name(), 0, apperrors.ErrNoData)
	}

	for _, exp := range seenExpiry {
		chain.Expirations = append(chain.Expirations, exp)
	}
	chain.SortContracts()

	return chain, nil
}

type polygonContractsPage struct {
	NextURL string `json:"next_url"`
	Results []struct {
		ExpirationDate string `json:"expiration_date"`
	} `json:"results"`
}

// GetExpirations lists the distinct expiration dates of unexpired contracts.
func (p *Polygon) GetExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	if p.apiKey == "" {
		return nil, apperrors.NewProviderError(p.Name(), 0, apperrors.ErrNotConfigured)
	}

	reqURL := fmt.Sprintf(
		"%s/v3/reference/options/contracts?underlying_ticker=%s&expired=false&order=asc&sort=expiration_date&limit=1000",
		p.baseURL, url.QueryEscape(strings.ToUpper(symbol)))

	seen := make(map[string]time.Time)
	for page := 0; reqURL != "" && page < polygonMaxPages; page++ {
		if err := p.throttle.wait(ctx); err != nil {
			return nil, apperrors.NewProviderError(p.Name(), 0, err)
		}

		var body polygonContractsPage
		start := time.Now()
		err := getJSON(ctx, p.client, p.Name(), reqURL, p.authorize, &body)
		logging.LogProviderCall(p.logger, p.Name(), "/v3/reference/options/contracts", time.Since(start), err)
		if err != nil {
			return nil, err
		}
		for _, res := range body.Results {
			if exp, err := time.Parse("2006-01-02", res.ExpirationDate); err == nil {
				seen[res.ExpirationDate] = exp
			}
		}
		reqURL = body.NextURL
	}

	if len(seen) == 0 {
		return nil, apperrors.NewProviderError(p.Name(), 0, apperrors.ErrNoData)
	}

	expirations := make([]time.Time, 0, len(seen))
	for _, exp := range seen {
		expirations = append(expirations, exp)
	}
	sort.Slice(expirations, func(i, j int) bool { return expirations[i].Before(expirations[j]) })
	return expirations, nil
}
