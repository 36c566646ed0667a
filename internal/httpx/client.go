// Package httpx provides the shared retrying HTTP client that discovery,
// price-history, order placement and the trade-card webhook are built
// on; candle data goes through go-binance's own client instead. Bounded retries with exponential backoff, Retry-After honored
// on 429, and every call carries a timeout — per spec §5.
package httpx

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"martin/internal/apperr"
)

// Config tunes the shared client. Zero-value Config uses the package
// defaults (30s timeout, 3 retries, base 2s backoff).
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	return c
}

// Client wraps a retryablehttp.Client configured per Config.
type Client struct {
	rc *retryablehttp.Client
}

// New builds a Client. The retry library's own logging is discarded.
// Once retries are exhausted the last response is passed through, so do
// can map a final 429 or other non-2xx status to its typed error.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.BaseDelay
	rc.RetryWaitMax = cfg.BaseDelay * time.Duration(1<<uint(cfg.MaxRetries))
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = log.New(io.Discard, "", 0)
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Backoff = retryablehttp.DefaultBackoff
	return &Client{rc: rc}
}

// checkRetry retries on connection errors, 429, and 5xx; never on other
// 4xx (those are caller bugs, not transient failures).
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// Get performs a GET request and returns the response body, or a typed
// apperr on failure. A non-2xx, non-retryable status is surfaced as
// apperr.API; exhausting retries after a 429 is surfaced as
// apperr.APIRateLimitErr.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.API("build request", 0, "", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, apperr.API("build request", 0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *Client) do(req *retryablehttp.Request) ([]byte, error) {
	resp, err := c.rc.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, apperr.APITimeoutErr(fmt.Sprintf("%s %s timed out", req.Method, req.URL), err)
		}
		return nil, apperr.API(fmt.Sprintf("%s %s failed", req.Method, req.URL), 0, "", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, apperr.API("read response body", resp.StatusCode, "", readErr)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.APIRateLimitErr(
			fmt.Sprintf("%s %s rate limited", req.Method, req.URL),
			retryAfter(resp.Header.Get("Retry-After")),
			nil,
		)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.API(fmt.Sprintf("%s %s returned %d", req.Method, req.URL, resp.StatusCode),
			resp.StatusCode, string(body), nil)
	}
	return body, nil
}

func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		return time.Until(t)
	}
	return 0
}
