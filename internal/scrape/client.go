// File: internal/scrape/client.go

// Package scrape holds the boundary clients for the external scraping
// collaborator. The collaborator fetches and parses markup; this package only
// moves already-structured records over HTTP.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JorisJBackis/tikrakaina/internal/common"
	"github.com/JorisJBackis/tikrakaina/internal/config"

	"go.uber.org/zap"
)

// backoffBase sets the linear retry cadence: 5s, 10s, 15s between attempts.
const backoffBase = 5 * time.Second

// Client is the shared HTTP transport to the scrape API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewClient builds a Client from config. Every request carries the config
// timeout; no call can block a run indefinitely.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    cfg.ScrapeAPIURL,
		apiKey:     cfg.ScrapeAPIKey,
		httpClient: &http.Client{Timeout: cfg.ScrapeTimeout},
		maxRetries: cfg.ScrapeMaxRetries,
		backoff:    backoffBase,
		logger:     logger.Named("scrape"),
	}
}

// GetJSON fetches path and decodes the response body into out. Transient
// upstream failures (timeouts, 429/421, 5xx) are retried with linear-growth
// backoff up to the attempt cap; any other 4xx fails immediately as a
// structural error.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * c.backoff
			c.logger.Warn("Retrying scrape API call",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := c.doOnce(ctx, path, out)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
	}

	return common.ErrTransient.WithDetails(path).Wrap(lastErr)
}

// doOnce performs one request. The bool reports whether the failure is worth
// retrying.
func (c *Client) doOnce(ctx context.Context, path string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, common.ErrStructural.WithDetails(path).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, common.ErrTransient.WithDetails(path).Wrap(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, common.ErrStructural.WithDetails(path).Wrap(fmt.Errorf("decoding response: %w", err))
		}
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusMisdirectedRequest,
		resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return true, common.ErrTransient.WithDetails(fmt.Sprintf("%s: status %d", path, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return false, common.ErrNotFound.WithDetails(path)
	default:
		return false, common.ErrStructural.WithDetails(fmt.Sprintf("%s: status %d", path, resp.StatusCode))
	}
}
