// Package relay orchestrates pull cycles across a channel set and renders
// the per-channel summaries consumed by the trigger surface.
package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/message"
	"github.com/blockedby/channel-relay/internal/metrics"
	"github.com/blockedby/channel-relay/internal/pull"
	"github.com/blockedby/channel-relay/internal/state"
)

// Summary is one channel's human-readable pull outcome.
type Summary struct {
	Channel string
	Text    string
	Err     error
}

// Service runs pull cycles. Per-channel failures are isolated into their
// summary; nothing here terminates the host process.
type Service struct {
	puller  pull.Puller
	mode    string
	lock    *state.Lock // nil when advisory locking is disabled
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewService creates the orchestration service. lock may be nil.
func NewService(puller pull.Puller, mode string, lock *state.Lock, m *metrics.Metrics, log zerolog.Logger) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	return &Service{puller: puller, mode: mode, lock: lock, metrics: m, log: log}
}

// PullAll runs one pull cycle per channel and returns the summaries.
func (s *Service) PullAll(ctx context.Context, channels []message.Channel, limit int) []Summary {
	summaries := make([]Summary, 0, len(channels))
	for _, ch := range channels {
		summaries = append(summaries, s.pullOne(ctx, ch, limit))
	}
	return summaries
}

func (s *Service) pullOne(ctx context.Context, ch message.Channel, limit int) Summary {
	if s.lock != nil {
		if s.lock.Acquire(state.DefaultLockWait) {
			defer s.lock.Release()
		} else {
			// best-effort mutual exclusion only, proceed unlocked
			s.log.Warn().Str("chat", ch.Key()).Msg("state lock wait timed out, proceeding unlocked")
		}
	}

	res, err := s.puller.Pull(ctx, ch, limit)
	if err != nil {
		s.metrics.PullsTotal.WithLabelValues(s.mode, "error").Inc()
		s.log.Error().Err(err).Str("chat", ch.Key()).Msg("pull failed")
		return Summary{
			Channel: ch.Label(),
			Text:    fmt.Sprintf("%s: pull failed: %v", ch.Label(), err),
			Err:     err,
		}
	}

	s.metrics.PullsTotal.WithLabelValues(s.mode, "success").Inc()
	return Summary{
		Channel: ch.Label(),
		Text:    fmt.Sprintf("%s: sent %d, skipped %d", ch.Label(), res.Sent, res.Skipped),
	}
}
