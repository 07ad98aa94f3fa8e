package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"brokerdesk/internal/types"
)

// Quote is a normalized market quote for a traded symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"last_price"`
	ChangePercent float64   `json:"change_percent"`
	AsOf          time.Time `json:"as_of"`
}

// QuoteProvider fetches current market quotes. Advisors attach quotes to
// trading-recommendation stories; the rest of the platform never calls the
// vendor directly.
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

// MarketDataClient implements QuoteProvider against the market data vendor's
// REST API through BaseClient.
type MarketDataClient struct {
	base    *BaseClient
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewMarketDataClient creates a MarketDataClient. The vendor enforces tight
// rate limits, so the retry policy stays conservative.
func NewMarketDataClient(httpClient *http.Client, baseURL string, apiKey types.SecretString, logger *slog.Logger) *MarketDataClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(
		httpClient,
		"market-data",
		RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		"brokerdesk/1.0",
	)
	return &MarketDataClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

// quoteResponse is the vendor's wire format.
type quoteResponse struct {
	Symbol        string  `json:"symbol"`
	LastPrice     float64 `json:"ltp"`
	ChangePercent float64 `json:"change_pct"`
	Timestamp     int64   `json:"ts"`
}

// GetQuote fetches the current quote for a symbol.
func (c *MarketDataClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/v1/quotes/%s", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build quote request", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamMarketData, "market data vendor unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("unknown symbol %q", symbol), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeUpstreamMarketData,
			fmt.Sprintf("market data vendor returned %d", resp.StatusCode), nil)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamMarketData, "failed to decode quote response", err)
	}

	return &Quote{
		Symbol:        body.Symbol,
		LastPrice:     body.LastPrice,
		ChangePercent: body.ChangePercent,
		AsOf:          time.Unix(body.Timestamp, 0).UTC(),
	}, nil
}
