package relay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-relay/internal/message"
	"github.com/blockedby/channel-relay/internal/pull"
	"github.com/blockedby/channel-relay/internal/state"
)

type fakePuller struct {
	results map[string]pull.Result
	errs    map[string]error
	calls   []string
}

func (f *fakePuller) Pull(_ context.Context, ch message.Channel, _ int) (pull.Result, error) {
	key := ch.Key()
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return pull.Result{}, err
	}
	return f.results[key], nil
}

func TestPullAll_Summaries(t *testing.T) {
	p := &fakePuller{
		results: map[string]pull.Result{
			"-1001": {Sent: 3, Skipped: 1},
			"-1002": {},
		},
		errs: map[string]error{
			"-1003": errors.New("channel unavailable"),
		},
	}
	svc := NewService(p, "local", nil, nil, zerolog.Nop())

	channels := []message.Channel{
		{ID: -1001, Alias: "news"},
		{ID: -1002, Alias: "tech"},
		{ID: -1003, Alias: "broken"},
	}
	summaries := svc.PullAll(context.Background(), channels, 10)

	require.Len(t, summaries, 3)
	assert.Equal(t, "news: sent 3, skipped 1", summaries[0].Text)
	assert.NoError(t, summaries[0].Err)
	assert.Equal(t, "tech: sent 0, skipped 0", summaries[1].Text)
	assert.Equal(t, "broken: pull failed: channel unavailable", summaries[2].Text)
	assert.Error(t, summaries[2].Err)

	// one failing channel never stops the rest
	assert.Equal(t, []string{"-1001", "-1002", "-1003"}, p.calls)
}

func TestPullOne_ProceedsWhenLockHeld(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	blocker := state.NewLock(statePath)
	require.True(t, blocker.Acquire(0))
	defer blocker.Release()

	lock := state.NewLock(statePath)
	p := &fakePuller{results: map[string]pull.Result{"-1001": {Sent: 1}}}
	svc := NewService(p, "local", lock, nil, zerolog.Nop())

	sum := svc.pullOne(context.Background(), message.Channel{ID: -1001, Alias: "news"}, 10)
	assert.NoError(t, sum.Err)
	assert.Equal(t, "news: sent 1, skipped 0", sum.Text)
}

func TestPullOne_ReleasesLockBetweenChannels(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	lock := state.NewLock(statePath)
	p := &fakePuller{results: map[string]pull.Result{}}
	svc := NewService(p, "local", lock, nil, zerolog.Nop())

	channels := []message.Channel{{ID: -1}, {ID: -2}}
	summaries := svc.PullAll(context.Background(), channels, 10)
	require.Len(t, summaries, 2)
	for _, s := range summaries {
		assert.NoError(t, s.Err)
	}

	// the lock must be free again after the cycle
	assert.True(t, lock.Acquire(0))
	lock.Release()
}
