// Package telegram wraps the source platform Bot API: raw update polling,
// file-link resolution and direct streaming downloads.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/backoff"
)

// Client wraps the bot API with rate limiting and the single-retry policy.
type Client struct {
	bot         *tgbotapi.BotAPI
	httpClient  *http.Client
	rateLimiter *RateLimiter
	log         zerolog.Logger
}

// NewClient authorizes against the bot API and returns a client.
func NewClient(token string, log zerolog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authorize bot api: %w", err)
	}
	return &Client{
		bot:         bot,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		rateLimiter: DefaultRateLimiter(),
		log:         log,
	}, nil
}

// GetUpdates fetches raw updates starting at offset. The limit is clamped
// to the API's [1,100] window.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit int) ([]tgbotapi.Update, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var updates []tgbotapi.Update
	err := backoff.Do(ctx, func() error {
		var err error
		updates, err = c.bot.GetUpdates(tgbotapi.UpdateConfig{
			Offset: int(offset),
			Limit:  limit,
		})
		return c.classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("get updates from offset %d: %w", offset, err)
	}
	return updates, nil
}

// FileLink resolves a file id into a time-limited download URL.
func (c *Client) FileLink(ctx context.Context, fileID string) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", err
	}

	var link string
	err := backoff.Do(ctx, func() error {
		file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
		if err != nil {
			return c.classify(err)
		}
		link = file.Link(c.bot.Token)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	return link, nil
}

// ErrTooLarge is returned when a download exceeds the byte ceiling.
var ErrTooLarge = errors.New("file exceeds size limit")

// Download streams the URL into dest, aborting mid-stream when the byte
// ceiling is exceeded. maxSize 0 means uncapped. A partially written file
// is always removed on failure.
func (c *Client) Download(ctx context.Context, url, dest string, maxSize int64) (written int64, err error) {
	err = backoff.Do(ctx, func() error {
		var inner error
		written, inner = c.downloadOnce(ctx, url, dest, maxSize)
		return inner
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (c *Client) downloadOnce(ctx context.Context, url, dest string, maxSize int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, c.classifyStatus(resp.StatusCode, 0)
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	// read one byte past the cap so an oversized body is detected mid-stream
	var reader io.Reader = resp.Body
	if maxSize > 0 {
		reader = io.LimitReader(resp.Body, maxSize+1)
	}
	written, err := io.Copy(out, reader)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && maxSize > 0 && written > maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(dest)
		if errors.Is(err, ErrTooLarge) {
			return 0, err
		}
		return 0, fmt.Errorf("stream download: %w", err)
	}
	return written, nil
}

// classify maps a bot API error onto the retry taxonomy. Flood-wait
// responses also arm the shared rate limiter so sibling calls pause too,
// not just the retried one.
func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			c.rateLimiter.SetFloodWait(apiErr.RetryAfter)
			retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
			return &backoff.RateLimited{RetryAfter: retryAfter}
		case apiErr.Code >= 500:
			return &backoff.Transient{Err: err}
		default:
			return err
		}
	}
	return classifyHTTPErr(err)
}

func classifyHTTPErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) || isConnRefused(err) {
		return &backoff.Transient{Err: err}
	}
	return err
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (c *Client) classifyStatus(code int, retryAfter time.Duration) error {
	switch {
	case code == http.StatusTooManyRequests:
		c.rateLimiter.SetFloodWait(int(retryAfter / time.Second))
		return &backoff.RateLimited{RetryAfter: retryAfter}
	case code >= 500:
		return &backoff.Transient{Err: fmt.Errorf("HTTP %d", code)}
	default:
		return fmt.Errorf("HTTP %d", code)
	}
}
