// Package backoff implements the single-retry policy applied to every
// outbound network call: rate-limited responses wait out the long backoff,
// server errors and timeouts wait a short one, everything else fails
// immediately. At most one retry per call.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// RateLimitDelay is used when the service did not provide a retry-after hint.
	RateLimitDelay = 20 * time.Second
	// TransientDelay covers server errors, timeouts and unreachable hosts.
	TransientDelay = 2 * time.Second
)

// RateLimited marks a call rejected by the remote side's rate limiter.
type RateLimited struct {
	RetryAfter time.Duration // 0 when the service gave no hint
	Cause      error         // optional underlying error
}

func (e *RateLimited) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimited) Unwrap() error {
	return e.Cause
}

// Transient marks a server error, timeout or unreachable host.
type Transient struct {
	Err error
}

func (e *Transient) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *Transient) Unwrap() error {
	return e.Err
}

// Delay returns the backoff before the single retry for a classified error,
// or 0 if the error is not retryable.
func Delay(err error) time.Duration {
	var rl *RateLimited
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			return rl.RetryAfter
		}
		return RateLimitDelay
	}
	var tr *Transient
	if errors.As(err, &tr) {
		return TransientDelay
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransientDelay
	}
	return 0
}

// Retryable reports whether the error qualifies for the single retry.
func Retryable(err error) bool {
	return Delay(err) > 0
}

// Do runs fn under the policy: one attempt, and on a retryable failure one
// more after the classified delay.
func Do(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(2),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			return Delay(err)
		}),
	)
}
