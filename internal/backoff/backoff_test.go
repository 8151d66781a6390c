package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestDelay(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"rate limited without hint", &RateLimited{}, RateLimitDelay},
		{"rate limited with hint", &RateLimited{RetryAfter: 7 * time.Second}, 7 * time.Second},
		{"wrapped rate limit", errors.Join(errors.New("call failed"), &RateLimited{}), RateLimitDelay},
		{"transient", &Transient{Err: errors.New("502")}, TransientDelay},
		{"net timeout", timeoutErr{}, TransientDelay},
		{"plain error not retryable", errors.New("bad request"), 0},
		{"nil not retryable", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delay(tt.err))
		})
	}
}

func TestRateLimited_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("too many requests")
	err := &RateLimited{Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestDo_SingleRetryOnTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &Transient{Err: errors.New("503")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_AtMostTwoAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return &Transient{Err: errors.New("always down")}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func() error {
		calls++
		cancel()
		return &Transient{Err: errors.New("503")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
