package cloudlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/blockedby/channel-relay/internal/backoff"
)

// progressInterval throttles progress callbacks to at most one per second.
const progressInterval = time.Second

// Progress receives download progress events. While the body streams,
// events fire at most once per second; a final event with the complete
// byte count is always delivered on success, even when the last throttled
// event was under a second ago. The downloader never blocks on the
// consumer beyond the callback call itself; consumers that need buffering
// should hand the event off to a channel.
type Progress func(written, total int64)

// DownloadOptions tune one direct download.
type DownloadOptions struct {
	MaxSize  int64    // hard byte ceiling, downloads abort mid-stream past it
	Expected int64    // expected total for progress reporting, 0 if unknown
	Progress Progress // optional, throttled while streaming, see Progress
}

// DownloadDirect streams url into destPath. On any failure path the
// partially written file is removed.
func (c *Client) DownloadDirect(ctx context.Context, url, destPath string, opts DownloadOptions) (int64, error) {
	var written int64
	err := c.timed(func() error {
		return backoff.Do(ctx, func() error {
			var inner error
			written, inner = c.downloadOnce(ctx, url, destPath, opts)
			return inner
		})
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (c *Client) downloadOnce(ctx context.Context, url, destPath string, opts DownloadOptions) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return 0, &backoff.Transient{Err: &APIError{Kind: KindTimeout, Detail: err.Error()}}
		}
		return 0, &backoff.Transient{Err: &APIError{Kind: KindUnreachable, Detail: err.Error()}}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, c.statusError(resp)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	total := opts.Expected
	if total == 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	var reader io.Reader = resp.Body
	if opts.MaxSize > 0 {
		reader = io.LimitReader(resp.Body, opts.MaxSize+1)
	}
	if opts.Progress != nil {
		reader = &progressReader{r: reader, total: total, report: opts.Progress}
	}

	written, err := io.Copy(out, reader)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && opts.MaxSize > 0 && written > opts.MaxSize {
		err = &APIError{Kind: KindTooLarge, Detail: fmt.Sprintf("exceeded %d bytes", opts.MaxSize)}
	}
	if err != nil {
		os.Remove(destPath)
		return 0, err
	}

	if opts.Progress != nil {
		// completion event, deliberately outside the once-per-second throttle
		opts.Progress(written, total)
	}
	return written, nil
}

// progressReader reports bytes read, throttled to progressInterval.
type progressReader struct {
	r       io.Reader
	written int64
	total   int64
	last    time.Time
	report  Progress
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.written += int64(n)
	if now := time.Now(); now.Sub(p.last) >= progressInterval {
		p.last = now
		p.report(p.written, p.total)
	}
	return n, err
}
