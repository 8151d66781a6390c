package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-relay/internal/signature"
)

func readMirror(t *testing.T, path string) MirrorFile {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m MirrorFile
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestSyncMirror_CreatesMissingFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "state.json"), zerolog.Nop())
	mirrorPath := filepath.Join(dir, "mirror.json")
	now := time.Now()

	s.SyncMirror(mirrorPath, "news", ChatState{
		LastMessageID:    100,
		LastFetchTS:      now.Unix(),
		RecentSignatures: signature.History{{Sig: "a", TS: now}},
	})

	m := readMirror(t, mirrorPath)
	d := m.Digest["news"]
	assert.Equal(t, int64(100), d.LastMessageID)
	assert.True(t, d.RecentSignatures.Contains("a"))
}

// The side with the newer last_fetch_ts wins wholesale; fingerprints merge
// distinct-by-signature either way.
func TestSyncMirror_Reconcile(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		local         ChatState
		existing      MirrorDigest
		wantMessageID int64
		wantSigs      []string
	}{
		{
			name: "local newer wins",
			local: ChatState{
				LastMessageID:    200,
				LastFetchTS:      now.Unix(),
				RecentSignatures: signature.History{{Sig: "loc", TS: now}},
			},
			existing: MirrorDigest{
				LastMessageID:    150,
				LastFetchTS:      now.Add(-time.Hour).Unix(),
				RecentSignatures: signature.History{{Sig: "rem", TS: now}},
			},
			wantMessageID: 200,
			wantSigs:      []string{"loc", "rem"},
		},
		{
			name: "remote newer wins wholesale even with a lower message id",
			local: ChatState{
				LastMessageID:    500,
				LastFetchTS:      now.Add(-time.Hour).Unix(),
				RecentSignatures: signature.History{{Sig: "loc", TS: now}},
			},
			existing: MirrorDigest{
				LastMessageID:    120,
				LastFetchTS:      now.Unix(),
				RecentSignatures: signature.History{{Sig: "rem", TS: now}},
			},
			wantMessageID: 120,
			wantSigs:      []string{"loc", "rem"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := NewStore(filepath.Join(dir, "state.json"), zerolog.Nop())
			mirrorPath := filepath.Join(dir, "mirror.json")

			seed, err := json.Marshal(MirrorFile{Digest: map[string]MirrorDigest{"news": tt.existing}})
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(mirrorPath, seed, 0o644))

			s.SyncMirror(mirrorPath, "news", tt.local)

			d := readMirror(t, mirrorPath).Digest["news"]
			assert.Equal(t, tt.wantMessageID, d.LastMessageID)
			for _, sig := range tt.wantSigs {
				assert.True(t, d.RecentSignatures.Contains(sig), "missing signature %s", sig)
			}
		})
	}
}

// Mirror failures must never abort the caller.
func TestSyncMirror_CorruptMirrorIsTolerated(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "state.json"), zerolog.Nop())
	mirrorPath := filepath.Join(dir, "mirror.json")
	require.NoError(t, os.WriteFile(mirrorPath, []byte("###"), 0o644))

	s.SyncMirror(mirrorPath, "news", ChatState{LastMessageID: 5, LastFetchTS: time.Now().Unix()})

	d := readMirror(t, mirrorPath).Digest["news"]
	assert.Equal(t, int64(5), d.LastMessageID)
}

func TestSyncMirror_EmptyPathDisabled(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
	// must be a no-op, not a panic
	s.SyncMirror("", "news", ChatState{})
}
