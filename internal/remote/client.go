// Package remote is the client for the aggregation service that pulls and
// downloads channel content on our behalf, exporting files to a shared
// filesystem root.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/backoff"
)

// PullRequest asks the service for new channel content. Known signatures
// let the remote side skip content it already exported; the cursor fields
// are hints, not hard filters.
type PullRequest struct {
	ChatID          string   `json:"chat_id"`
	Limit           int      `json:"limit"`
	KnownSignatures []string `json:"known_signatures"`
	MinMessageID    int64    `json:"min_message_id,omitempty"`
	SinceTS         int64    `json:"since_ts,omitempty"`
}

// File is one exported attachment under the shared download root.
type File struct {
	Kind string `json:"kind"` // image|video|document|audio
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is one ready-made message from the service.
type Message struct {
	MessageID    int64  `json:"message_id"`
	MediaGroupID string `json:"media_group_id,omitempty"`
	Text         string `json:"text,omitempty"`
	Caption      string `json:"caption,omitempty"`
	Files        []File `json:"files,omitempty"`
}

// Digest is the server-computed cursor that becomes the new local cursor.
type Digest struct {
	LastMessageID int64 `json:"last_message_id"`
	LastFetchTS   int64 `json:"last_fetch_ts"`
}

// PullResponse is the tagged result of a pull call.
type PullResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Messages []Message `json:"messages"`
	State    Digest    `json:"state"`
	Failed   []string  `json:"failed,omitempty"`
}

// Client talks to the aggregation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// New creates a client with the given request timeout.
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Pull requests new content for one chat.
func (c *Client) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	var resp PullResponse
	err := backoff.Do(ctx, func() error {
		return c.post(ctx, "/pull", req, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("remote pull: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("remote pull rejected: %s", resp.Error)
	}
	return &resp, nil
}

// Cleanup asks the service to remove export directories it used. Callers
// treat failures as log-only.
func (c *Client) Cleanup(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	err := backoff.Do(ctx, func() error {
		return c.post(ctx, "/cleanup", map[string]any{"paths": paths}, nil)
	})
	if err != nil {
		return fmt.Errorf("remote cleanup: %w", err)
	}
	return nil
}

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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return &backoff.Transient{Err: err}
		}
		return &backoff.Transient{Err: fmt.Errorf("aggregation service unreachable: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		var after time.Duration
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				after = time.Duration(secs) * time.Second
			}
		}
		return &backoff.RateLimited{RetryAfter: after}
	case resp.StatusCode >= 500:
		return &backoff.Transient{Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
