// Package coingecko fetches market snapshots from the CoinGecko REST API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cryptodash/config"
	"cryptodash/internal/cache"
	ratemetrics "cryptodash/internal/metrics/rate"
	"cryptodash/logger"
	"cryptodash/models"
)

const (
	Source          = "coingecko"
	marketsEndpoint = "/coins/markets"
	apiKeyHeader    = "x-cg-demo-api-key"
	maxBodyBytes    = 8 << 20
)

var (
	ErrRateLimited = errors.New("coingecko: rate limited")
	ErrBadStatus   = errors.New("coingecko: unexpected status")
)

// MarketsQuery selects one page of the markets listing.
type MarketsQuery struct {
	Currency string
	PerPage  int
	Page     int
}

func (q MarketsQuery) cacheKey() string {
	return fmt.Sprintf("markets_%s_%d_%d", q.Currency, q.PerPage, q.Page)
}

func (q MarketsQuery) values() url.Values {
	v := url.Values{}
	v.Set("vs_currency", q.Currency)
	v.Set("order", "market_cap_desc")
	v.Set("per_page", strconv.Itoa(q.PerPage))
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("sparkline", "false")
	v.Set("price_change_percentage", "24h")
	return v
}

// Stats are the client's request counters, surfaced in the debug view.
type Stats struct {
	RequestCount    int64     `json:"request_count"`
	ErrorCount      int64     `json:"error_count"`
	CacheHits       int64     `json:"cache_hits"`
	SuccessRate     float64   `json:"success_rate"`
	LastError       string    `json:"last_error,omitempty"`
	LastRequestTime time.Time `json:"last_request_time"`
	CacheSize       int       `json:"cache_size"`
}

type Client struct {
	cfg     config.SourceConfig
	baseURL string
	http    *http.Client
	cache   cache.Cache
	limiter *rate.Limiter
	log     *logger.Log

	mu          sync.Mutex
	requests    int64
	errors      int64
	hits        int64
	lastError   string
	lastRequest time.Time
}

func NewClient(cfg config.SourceConfig, c cache.Cache, log *logger.Log) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if c == nil {
		c = cache.NewMemory()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	rpm := cfg.RateLimit.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	client := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cache:   c,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
		log:     log,
	}

	log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"base_url":       client.baseURL,
		"timeout":        cfg.Timeout.String(),
		"cache_ttl":      cfg.CacheTTL.String(),
		"requests_per_m": rpm,
	}).Info("coingecko client initialized")

	return client
}

// DefaultQuery is the page configured for polling.
func (c *Client) DefaultQuery() MarketsQuery {
	return MarketsQuery{Currency: c.cfg.Currency, PerPage: c.cfg.PageSize, Page: c.cfg.Page}
}

// FetchMarkets returns one page of coins ordered by market cap. Responses
// are served from the cache while they are younger than the cache TTL.
func (c *Client) FetchMarkets(ctx context.Context, q MarketsQuery) ([]models.Coin, error) {
	log := c.log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"operation": "fetch_markets",
		"page":      q.Page,
		"per_page":  q.PerPage,
	})

	key := q.cacheKey()
	if body, ok, err := c.cache.Get(ctx, key); err != nil {
		log.WithError(err).Warn("cache lookup failed")
	} else if ok {
		coins, err := decodeMarkets(body)
		if err == nil {
			c.mu.Lock()
			c.hits++
			c.mu.Unlock()
			log.Debug("served markets from cache")
			return coins, nil
		}
		log.WithError(err).Warn("discarding undecodable cache entry")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	start := time.Now()
	body, err := c.get(ctx, marketsEndpoint, q.values())
	c.recordRequest(start, err)
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "coingecko_reader", "api_request", time.Since(start), nil)

	coins, err := decodeMarkets(body)
	if err != nil {
		c.recordFailure(err)
		return nil, err
	}

	if c.cfg.CacheTTL > 0 {
		if err := c.cache.Set(ctx, key, body, c.cfg.CacheTTL); err != nil {
			log.WithError(err).Warn("cache store failed")
		}
	}

	logger.LogDataFlowEntry(log, "coingecko_api", "poller", len(coins), "coins")
	return coins, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", endpoint, err)
	}

	if ratemetrics.ReportLimitFromResponse(c.log, Source, endpoint, resp, string(body)) {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrBadStatus, resp.Status, snippet)
	}
	return body, nil
}

func decodeMarkets(body []byte) ([]models.Coin, error) {
	var coins []models.Coin
	if err := json.Unmarshal(body, &coins); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return coins, nil
}

func (c *Client) recordRequest(start time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.lastRequest = start
	if err != nil {
		c.errors++
		c.lastError = err.Error()
	}
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	c.errors++
	c.lastError = err.Error()
	c.mu.Unlock()
}

// InvalidateCache forces the next fetch to hit the API.
func (c *Client) InvalidateCache(ctx context.Context) error {
	if err := c.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	c.log.WithComponent("coingecko_reader").Debug("response cache cleared")
	return nil
}

func (c *Client) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	st := Stats{
		RequestCount:    c.requests,
		ErrorCount:      c.errors,
		CacheHits:       c.hits,
		LastError:       c.lastError,
		LastRequestTime: c.lastRequest,
	}
	c.mu.Unlock()

	if st.RequestCount > 0 {
		st.SuccessRate = float64(st.RequestCount-st.ErrorCount) / float64(st.RequestCount) * 100
	}
	if n, err := c.cache.Len(ctx); err == nil {
		st.CacheSize = n
	}
	return st
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return c.cache.Close()
}
