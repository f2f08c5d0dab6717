package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stablofi/stablo/internal/pkg/cache"
	"github.com/stablofi/stablo/internal/pkg/env"
)

const defaultExchangeAPIBaseURL = "https://rates.stablo.io/api/v1"

const rateCacheKey = "exchange:rate:usdc_usd"

// Rate is a point-in-time USDC/USD exchange rate.
type Rate struct {
	Rate            float64 `json:"rate"`
	ValidForSeconds int     `json:"valid_for_seconds"`
}

// RateProvider is the collaborator surface the payout service depends on.
type RateProvider interface {
	GetCurrentRate(ctx context.Context) (*Rate, error)
}

// Client talks to the exchange-rate provider API.
type Client struct {
	APIBaseURL string
	APIKey     string

	HTTPClient *http.Client
}

// NewClientFromEnv builds an exchange client from environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		APIBaseURL: strings.TrimRight(env.GetEnv("EXCHANGE_API_BASE_URL", defaultExchangeAPIBaseURL), "/"),
		APIKey:     strings.TrimSpace(env.GetEnv("EXCHANGE_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetCurrentRate fetches the current USDC/USD rate.
func (c *Client) GetCurrentRate(ctx context.Context) (*Rate, error) {
	endpoint := c.APIBaseURL + "/rates/usdc-usd"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("exchange rate request returned %d: %s", resp.StatusCode, string(body))
	}

	var rate Rate
	if err := json.NewDecoder(resp.Body).Decode(&rate); err != nil {
		return nil, fmt.Errorf("failed to decode exchange rate: %w", err)
	}
	if rate.Rate <= 0 {
		return nil, fmt.Errorf("exchange returned non-positive rate %v", rate.Rate)
	}
	return &rate, nil
}

// CachedProvider wraps a RateProvider with a Redis cache keyed on the
// provider's own validity window, so payout bursts do not hammer the
// upstream API.
type CachedProvider struct {
	upstream RateProvider
}

// NewCachedProvider wraps the given provider.
func NewCachedProvider(upstream RateProvider) *CachedProvider {
	return &CachedProvider{upstream: upstream}
}

// GetCurrentRate returns the cached rate when fresh, otherwise fetches
// and caches a new one. Cache failures degrade to a direct fetch.
func (p *CachedProvider) GetCurrentRate(ctx context.Context) (*Rate, error) {
	if cached, err := cache.Get(rateCacheKey); err == nil && cached != "" {
		if v, perr := strconv.ParseFloat(cached, 64); perr == nil && v > 0 {
			return &Rate{Rate: v, ValidForSeconds: 0}, nil
		}
	}

	rate, err := p.upstream.GetCurrentRate(ctx)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(rate.ValidForSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if err := cache.Set(rateCacheKey, strconv.FormatFloat(rate.Rate, 'f', -1, 64), ttl); err != nil {
		log.Warnf("[Exchange] Failed to cache rate: %v", err)
	}
	return rate, nil
}
