package kiva

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/amara/loan-screener/internal/engine"
)

const DefaultGatewayURL = "https://gateway.production.kiva.org/graphql"

// ErrBlocked means the gateway answered 403. Kiva rejects clients that look
// automated; retrying only entrenches the block, so the caller gets the
// error immediately.
var ErrBlocked = errors.New("gateway rejected the request (403)")

type Config struct {
	GatewayURL     string
	PageSize       int
	PageDelay      time.Duration
	TimeoutSeconds int
	MaxRetries     int
}

// Client talks GraphQL to the Kiva gateway with browser-profile headers, a
// fixed inter-page delay and bounded retries. An optional PageCache makes
// repeat fetches free.
type Client struct {
	cfg   Config
	http  *http.Client
	cache *PageCache
}

func NewClient(cfg Config) *Client {
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = os.Getenv("KIVA_GATEWAY_URL")
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 20
	}
	if cfg.PageDelay == 0 {
		cfg.PageDelay = 1500 * time.Millisecond
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

// WithCache attaches a page cache. A nil cache is fine and means every
// fetch goes to the gateway.
func (c *Client) WithCache(cache *PageCache) *Client {
	c.cache = cache
	return c
}

// FetchFundraisingLoans pages through the fundraising feed, newest first,
// under the given gateway filter (nil for none). It stops at maxPages, on
// an empty page, or once totalCount is exhausted, and returns the loans
// plus the feed's total count.
func (c *Client) FetchFundraisingLoans(ctx context.Context, filters map[string]any, maxPages int) ([]engine.RawLoan, int, error) {
	if maxPages <= 0 {
		maxPages = 1
	}

	var loans []engine.RawLoan
	total := 0
	for page := 1; page <= maxPages; page++ {
		vars := map[string]any{"limit": c.cfg.PageSize, "page": page}
		if filters != nil {
			vars["filters"] = filters
		}

		data, cached, err := c.query(ctx, fundraisingLoansQuery, vars)
		if err != nil {
			return nil, 0, fmt.Errorf("page %d: %w", page, err)
		}
		if data.FundraisingLoans == nil {
			return nil, 0, fmt.Errorf("page %d: response has no fundraisingLoans", page)
		}

		total = data.FundraisingLoans.TotalCount
		loans = append(loans, toRawLoans(data.FundraisingLoans.Values)...)
		log.Printf("[Kiva] Page %d: %d loans (%d/%d collected)", page, len(data.FundraisingLoans.Values), len(loans), total)

		if len(data.FundraisingLoans.Values) == 0 || len(loans) >= total {
			break
		}
		if page < maxPages && !cached {
			if err := politeDelay(ctx, c.cfg.PageDelay); err != nil {
				return nil, 0, err
			}
		}
	}

	return loans, total, nil
}

// FetchLenderLoans pulls a lender's held loans by public id, offset-paged.
func (c *Client) FetchLenderLoans(ctx context.Context, publicID string, maxPages int) ([]engine.RawLoan, error) {
	if publicID == "" {
		return nil, fmt.Errorf("lender public id is required")
	}
	if maxPages <= 0 {
		maxPages = 50
	}

	var loans []engine.RawLoan
	for page := 0; page < maxPages; page++ {
		vars := map[string]any{
			"publicId": publicID,
			"limit":    c.cfg.PageSize,
			"offset":   page * c.cfg.PageSize,
		}

		data, cached, err := c.query(ctx, lenderLoansQuery, vars)
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", page*c.cfg.PageSize, err)
		}
		if data.Lender == nil || data.Lender.Loans == nil {
			return nil, fmt.Errorf("lender %q not found", publicID)
		}

		values := data.Lender.Loans.Values
		loans = append(loans, toRawLoans(values)...)
		log.Printf("[Kiva] Lender %s: %d/%d loans collected", publicID, len(loans), data.Lender.Loans.TotalCount)

		if len(values) == 0 || len(loans) >= data.Lender.Loans.TotalCount {
			break
		}
		if page < maxPages-1 && !cached {
			if err := politeDelay(ctx, c.cfg.PageDelay); err != nil {
				return nil, err
			}
		}
	}

	return loans, nil
}

// query posts one GraphQL document and unwraps the envelope. The cached
// return tells pagination whether a gateway hit actually happened, so the
// polite delay is skipped for cache hits.
func (c *Client) query(ctx context.Context, doc string, variables map[string]any) (gqlData, bool, error) {
	payload, err := json.Marshal(gqlRequest{Query: doc, Variables: variables})
	if err != nil {
		return gqlData{}, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.cache != nil {
		if body, ok := c.cache.Get(ctx, payload); ok {
			data, err := decodeEnvelope(body)
			return data, true, err
		}
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		return gqlData{}, false, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return gqlData{}, false, err
	}
	if c.cache != nil {
		c.cache.Set(ctx, payload, body)
	}
	return data, false, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 0.5s, 1s, 2s + jitter
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.GatewayURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		setGatewayHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if shouldRetry(err, 0) {
				continue
			}
			return nil, fmt.Errorf("gateway request failed: %w", err)
		}

		if resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return nil, ErrBlocked
		}
		if shouldRetry(nil, resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("status code %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func decodeEnvelope(body []byte) (gqlData, error) {
	var parsed gqlResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return gqlData{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return gqlData{}, fmt.Errorf("graphql error: %s", parsed.Errors[0].Message)
	}
	return parsed.Data, nil
}

// setGatewayHeaders makes the request look like the www.kiva.org lend page.
// The gateway 403s clients without a browser profile.
func setGatewayHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Origin", "https://www.kiva.org")
	req.Header.Set("Referer", "https://www.kiva.org/lend")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

func politeDelay(ctx context.Context, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// shouldRetry reports whether an error or status code is worth another
// attempt. 403 never is; the gateway means it.
func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
			return true
		}
		return false
	}

	retryStatusCodes := map[int]bool{
		429: true,
		500: true,
		502: true,
		503: true,
		504: true,
	}
	return retryStatusCodes[statusCode]
}
