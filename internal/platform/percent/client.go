// Package percent is the REST client for the decision-market metadata API.
package percent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// Client fetches market configuration and TWAP summaries.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. baseURL is the API root, e.g.
// "https://api.percent.markets".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetMarket returns the configuration of market id.
func (c *Client) GetMarket(ctx context.Context, id string) (domain.MarketConfiguration, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.MarketConfiguration{}, fmt.Errorf("percent: get market %s: %w: %w", id, domain.ErrMarketUnavailable, err)
	}
	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.MarketConfiguration{}, fmt.Errorf("percent: decode market %s: %w: %w", id, domain.ErrMarketUnavailable, err)
	}
	cfg, err := m.ToDomain()
	if err != nil {
		return domain.MarketConfiguration{}, fmt.Errorf("percent: market %s: %w: %w", id, domain.ErrMarketUnavailable, err)
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	return cfg, nil
}

// GetTWAP returns the per-leg time-weighted prices of market id.
func (c *Client) GetTWAP(ctx context.Context, id string) ([]domain.TWAPObservation, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(id)+"/twap")
	if err != nil {
		return nil, fmt.Errorf("percent: get twap %s: %w", id, err)
	}
	var t APITWAP
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("percent: decode twap %s: %w", id, err)
	}
	return t.ToDomain(), nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
