package state

import (
	"encoding/json"
	"os"

	"github.com/blockedby/channel-relay/internal/signature"
)

// MirrorFile is the digest file owned by the remote aggregation service.
// Only the digest map is touched; unknown fields are not preserved because
// the remote side rewrites its own file wholesale.
type MirrorFile struct {
	Digest map[string]MirrorDigest `json:"digest"`
}

// MirrorDigest is one channel's summary inside the mirror file.
type MirrorDigest struct {
	LastMessageID    int64             `json:"last_message_id"`
	LastFetchTS      int64             `json:"last_fetch_ts"`
	RecentSignatures signature.History `json:"recent_signatures"`
}

// SyncMirror reconciles the local digest for one channel into the mirror
// file: the side with the newer last_fetch_ts wins wholesale, fingerprint
// lists are merged distinct-by-signature. Best-effort: every failure is
// logged and swallowed so a pull cycle is never aborted by the mirror.
//
// The wholesale pick can regress last_message_id under clock skew; that is
// the established reconciliation rule between the two agents.
func (s *Store) SyncMirror(mirrorPath, channelKey string, local ChatState) {
	if mirrorPath == "" {
		return
	}

	mirror := MirrorFile{Digest: map[string]MirrorDigest{}}
	if data, err := os.ReadFile(mirrorPath); err == nil {
		if err := json.Unmarshal(data, &mirror); err != nil {
			s.log.Warn().Err(err).Str("path", mirrorPath).Msg("mirror file corrupt, starting empty")
			mirror = MirrorFile{}
		}
	} else if !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("path", mirrorPath).Msg("mirror file unreadable, starting empty")
	}
	if mirror.Digest == nil {
		mirror.Digest = map[string]MirrorDigest{}
	}

	remote := mirror.Digest[channelKey]
	mirror.Digest[channelKey] = reconcile(local, remote)

	if err := atomicWriteJSON(mirrorPath, &mirror); err != nil {
		s.log.Warn().Err(err).Str("path", mirrorPath).Msg("mirror sync failed")
		return
	}
	s.log.Debug().Str("chat", channelKey).Str("path", mirrorPath).Msg("mirror digest synced")
}

func reconcile(local ChatState, remote MirrorDigest) MirrorDigest {
	sigs := signature.MergeEntries(remote.RecentSignatures, local.RecentSignatures)

	if remote.LastFetchTS > local.LastFetchTS {
		remote.RecentSignatures = sigs
		return remote
	}
	return MirrorDigest{
		LastMessageID:    local.LastMessageID,
		LastFetchTS:      local.LastFetchTS,
		RecentSignatures: sigs,
	}
}
