// Package cloudlink talks to the remote link-resolution service: it turns
// attachment identifiers into short-lived download URLs, health-checks the
// service with a cache window and tracks per-request telemetry.
package cloudlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/backoff"
)

// DefaultHealthWindow caches health-check results to avoid hammering the
// service.
const DefaultHealthWindow = 30 * time.Second

// Options tweak a single link request.
type Options struct {
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// Link is a resolved time-limited download URL.
type Link struct {
	URL      string    `json:"download_url"`
	Expiry   time.Time `json:"expires_at"`
	FileSize int64     `json:"file_size,omitempty"`
}

// Request names one attachment in a batch resolution.
type Request struct {
	FileID  string  `json:"file_id"`
	Options Options `json:"options,omitempty"`
}

// Stats is per-client request telemetry. Counters belong to the owning
// client instance, never package globals.
type Stats struct {
	Success    int64
	Failure    int64
	AvgLatency time.Duration
}

// Client is the HTTP client for the link-resolution API.
type Client struct {
	baseURL      string
	token        string
	maxBatch     int
	healthWindow time.Duration
	httpClient   *http.Client
	log          zerolog.Logger

	mu          sync.Mutex
	stats       Stats
	totalLat    time.Duration
	healthy     bool
	nextCheckAt time.Time
}

// New creates a client. maxBatch bounds GetLinksBatch, healthWindow controls
// the health-check cache (DefaultHealthWindow when 0).
func New(baseURL, token string, timeout time.Duration, maxBatch int, healthWindow time.Duration, log zerolog.Logger) *Client {
	if healthWindow <= 0 {
		healthWindow = DefaultHealthWindow
	}
	if maxBatch <= 0 {
		maxBatch = 20
	}
	return &Client{
		baseURL:      baseURL,
		token:        token,
		maxBatch:     maxBatch,
		healthWindow: healthWindow,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
	}
}

// GetLink resolves one file id into a time-limited download URL.
func (c *Client) GetLink(ctx context.Context, fileID string, opts Options) (*Link, error) {
	var link Link
	err := c.timed(func() error {
		return backoff.Do(ctx, func() error {
			return c.post(ctx, "/file-link", Request{FileID: fileID, Options: opts}, &link)
		})
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// BatchResult carries the outcome for one request of a batch.
type BatchResult struct {
	FileID string `json:"file_id"`
	Link   *Link  `json:"link,omitempty"`
	Error  string `json:"error,omitempty"`
}

// GetLinksBatch resolves several file ids in one call. It fails fast when
// the batch exceeds the configured maximum.
func (c *Client) GetLinksBatch(ctx context.Context, reqs []Request) ([]BatchResult, error) {
	if len(reqs) > c.maxBatch {
		return nil, fmt.Errorf("batch of %d exceeds maximum %d", len(reqs), c.maxBatch)
	}
	var out struct {
		Results []BatchResult `json:"results"`
	}
	err := c.timed(func() error {
		return backoff.Do(ctx, func() error {
			return c.post(ctx, "/file-links/batch", map[string]any{"requests": reqs}, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// HealthCheck returns service availability, cached for the health window.
// A failed check pins availability to false until the window elapses.
func (c *Client) HealthCheck(ctx context.Context) bool {
	c.mu.Lock()
	if time.Now().Before(c.nextCheckAt) {
		healthy := c.healthy
		c.mu.Unlock()
		return healthy
	}
	c.mu.Unlock()

	healthy := c.probe(ctx)

	c.mu.Lock()
	c.healthy = healthy
	c.nextCheckAt = time.Now().Add(c.healthWindow)
	c.mu.Unlock()

	if !healthy {
		c.log.Warn().Str("url", c.baseURL).Msg("cloud service health check failed")
	}
	return healthy
}

func (c *Client) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return false
	}
	c.auth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Stats returns a copy of the request telemetry.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// timed runs fn and folds its latency into the rolling average.
func (c *Client) timed(fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	c.mu.Lock()
	if err != nil {
		c.stats.Failure++
	} else {
		c.stats.Success++
	}
	c.totalLat += elapsed
	if total := c.stats.Success + c.stats.Failure; total > 0 {
		c.stats.AvgLatency = c.totalLat / time.Duration(total)
	}
	c.mu.Unlock()
	return err
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// post issues one JSON request and maps failures onto the error taxonomy.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return &backoff.Transient{Err: &APIError{Kind: KindTimeout, Detail: err.Error()}}
		}
		return &backoff.Transient{Err: &APIError{Kind: KindUnreachable, Detail: err.Error()}}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return &APIError{Kind: KindNotFound, Status: resp.StatusCode}
	case http.StatusUnauthorized:
		return &APIError{Kind: KindAuth, Status: resp.StatusCode}
	case http.StatusRequestEntityTooLarge:
		return &APIError{Kind: KindTooLarge, Status: resp.StatusCode}
	case http.StatusTooManyRequests:
		var after time.Duration
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				after = time.Duration(secs) * time.Second
			}
		}
		apiErr := &APIError{Kind: KindRateLimited, Status: resp.StatusCode, RetryAfter: after}
		return &backoff.RateLimited{RetryAfter: after, Cause: apiErr}
	default:
		apiErr := &APIError{Kind: KindUnreachable, Status: resp.StatusCode, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
		if resp.StatusCode >= 500 {
			return &backoff.Transient{Err: apiErr}
		}
		return apiErr
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
