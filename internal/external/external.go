// Package external proxies third-party fuel price and EV charging APIs with an
// in-process cache.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/config"
)

// ErrNotConfigured is returned when the requested upstream has no base URL.
var ErrNotConfigured = errors.New("external source not configured")

const maxUpstreamBody = 2 << 20

// Client fetches and caches upstream JSON documents.
type Client struct {
	http   *http.Client
	fuel   config.EndpointConfig
	ev     config.EndpointConfig
	cache  *cache.Cache
	logger *zap.Logger
}

// New builds a Client. A nil httpClient gets one with the configured timeout.
func New(cfg config.ExternalConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		fuel:   cfg.Fuel,
		ev:     cfg.EV,
		cache:  cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger: logger,
	}
}

// FuelPrices returns the upstream fuel price document for a region code.
func (c *Client) FuelPrices(ctx context.Context, region string) (json.RawMessage, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, errors.New("region is required")
	}
	q := url.Values{"region": {region}}
	if c.fuel.APIKey != "" {
		q.Set("apikey", c.fuel.APIKey)
	}
	return c.get(ctx, "fuel", c.fuel.BaseURL, q)
}

// EVStations returns charging stations within radiusKM of a point.
func (c *Client) EVStations(ctx context.Context, lat, lng, radiusKM float64) (json.RawMessage, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, errors.New("coordinates out of range")
	}
	if radiusKM <= 0 {
		radiusKM = 10
	}
	q := url.Values{
		"latitude":     {strconv.FormatFloat(lat, 'f', 5, 64)},
		"longitude":    {strconv.FormatFloat(lng, 'f', 5, 64)},
		"distance":     {strconv.FormatFloat(radiusKM, 'f', 1, 64)},
		"distanceunit": {"km"},
	}
	if c.ev.APIKey != "" {
		q.Set("key", c.ev.APIKey)
	}
	return c.get(ctx, "ev", c.ev.BaseURL, q)
}

func (c *Client) get(ctx context.Context, source, base string, q url.Values) (json.RawMessage, error) {
	if base == "" {
		return nil, fmt.Errorf("%s: %w", source, ErrNotConfigured)
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse %s url: %w", source, err)
	}
	merged := u.Query()
	for k, vs := range q {
		merged[k] = vs
	}
	u.RawQuery = merged.Encode()
	key := u.String()

	if v, ok := c.cache.Get(key); ok {
		return v.(json.RawMessage), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", source, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", source, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", source, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("upstream returned error",
			zap.String("source", source),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%s upstream status %d", source, resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s upstream returned invalid json", source)
	}
	doc := json.RawMessage(body)
	c.cache.Set(key, doc, cache.DefaultExpiration)
	return doc, nil
}
