package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL        = "https://api.coingecko.com/api/v3"
	defaultRequestTimeout = 10 * time.Second
	apiKeyHeader          = "x-cg-demo-api-key"
)

var (
	// ErrCoinNotFound indicates the upstream has no data for the coin id.
	ErrCoinNotFound = errors.New("market: coin not found")
	// ErrUpstreamUnavailable wraps non-2xx upstream responses.
	ErrUpstreamUnavailable = errors.New("market: upstream unavailable")
)

// CoinMarket is one row of the upstream markets listing. Prices arrive
// as floats on the wire; they feed display surfaces, not the portfolio
// ledger, which keeps its own decimal-string amounts.
type CoinMarket struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	Image                    string  `json:"image"`
	CurrentPrice             float64 `json:"current_price"`
	MarketCap                float64 `json:"market_cap"`
	MarketCapRank            int     `json:"market_cap_rank"`
	PriceChangePercentage24H float64 `json:"price_change_percentage_24h"`
	TotalVolume              float64 `json:"total_volume"`
	LastUpdated              string  `json:"last_updated"`
}

// CoinGeckoConfig configures the upstream market data client.
type CoinGeckoConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// CoinGeckoClient fetches market data from the CoinGecko REST API.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCoinGeckoClient constructs a client with sane defaults.
func NewCoinGeckoClient(cfg CoinGeckoConfig) *CoinGeckoClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &CoinGeckoClient{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

// CoinsMarkets lists market rows for the currency, optionally filtered
// to specific coin ids.
func (c *CoinGeckoClient) CoinsMarkets(ctx context.Context, vsCurrency string, coinIDs []string, perPage, page int) ([]CoinMarket, error) {
	query := url.Values{}
	query.Set("vs_currency", vsCurrency)
	if len(coinIDs) > 0 {
		query.Set("ids", strings.Join(coinIDs, ","))
	}
	if perPage > 0 {
		query.Set("per_page", strconv.Itoa(perPage))
	}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	query.Set("order", "market_cap_desc")

	var markets []CoinMarket
	if err := c.getJSON(ctx, "/coins/markets", query, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// SimplePrice returns the spot price of one coin in the currency.
func (c *CoinGeckoClient) SimplePrice(ctx context.Context, coinID, vsCurrency string) (float64, error) {
	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", vsCurrency)

	prices := map[string]map[string]float64{}
	if err := c.getJSON(ctx, "/simple/price", query, &prices); err != nil {
		return 0, err
	}
	quote, present := prices[coinID]
	if !present {
		return 0, fmt.Errorf("%w: %s", ErrCoinNotFound, coinID)
	}
	price, present := quote[vsCurrency]
	if !present {
		return 0, fmt.Errorf("%w: %s in %s", ErrCoinNotFound, coinID, vsCurrency)
	}
	return price, nil
}

func (c *CoinGeckoClient) getJSON(ctx context.Context, path string, query url.Values, target interface{}) error {
	endpoint := c.baseURL + path + "?" + query.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		request.Header.Set(apiKeyHeader, c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode == http.StatusNotFound {
		return ErrCoinNotFound
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, response.StatusCode)
	}
	return json.NewDecoder(response.Body).Decode(target)
}
