// Package signature computes and merges content fingerprints used to
// deduplicate channel messages across pull cycles.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/blockedby/channel-relay/internal/message"
)

// HistoryCap bounds the fingerprint history per channel. Oldest entries are
// evicted first.
const HistoryCap = 500

// Entry is one recorded fingerprint with the time it was first seen.
type Entry struct {
	Sig string    `json:"sig"`
	TS  time.Time `json:"ts"`
}

// History is a bounded ordered list of fingerprints, oldest first.
type History []Entry

// Compute returns the deterministic fingerprint of a message. The hash
// covers channel key, message id, media group id, text, caption and every
// attachment file id, never timestamps or server sequence numbers, so
// structurally identical messages always collide.
func Compute(channelKey string, msg *message.Inbound) string {
	var b strings.Builder
	b.WriteString(channelKey)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(msg.MessageID, 10))
	b.WriteByte(0)
	b.WriteString(msg.MediaGroupID)
	b.WriteByte(0)
	b.WriteString(msg.Text)
	b.WriteByte(0)
	b.WriteString(msg.Caption)
	for _, a := range msg.Attachments {
		b.WriteByte(0)
		b.WriteString(a.FileID)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Contains reports whether the signature is already recorded.
func (h History) Contains(sig string) bool {
	for _, e := range h {
		if e.Sig == sig {
			return true
		}
	}
	return false
}

// Merge appends new signatures to the history, deduplicated by value, and
// truncates to the most recent HistoryCap entries. Pure function, the
// receiver is not mutated.
func Merge(existing History, sigs []string, now time.Time) History {
	seen := make(map[string]struct{}, len(existing)+len(sigs))
	merged := make(History, 0, len(existing)+len(sigs))
	for _, e := range existing {
		if _, dup := seen[e.Sig]; dup {
			continue
		}
		seen[e.Sig] = struct{}{}
		merged = append(merged, e)
	}
	for _, s := range sigs {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, Entry{Sig: s, TS: now})
	}
	if len(merged) > HistoryCap {
		merged = merged[len(merged)-HistoryCap:]
	}
	return merged
}

// MergeEntries merges two histories distinct-by-signature, keeping order
// (left side first) and the HistoryCap bound. Used by the mirror reconcile.
func MergeEntries(a, b History) History {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make(History, 0, len(a)+len(b))
	for _, h := range []History{a, b} {
		for _, e := range h {
			if _, dup := seen[e.Sig]; dup {
				continue
			}
			seen[e.Sig] = struct{}{}
			merged = append(merged, e)
		}
	}
	if len(merged) > HistoryCap {
		merged = merged[len(merged)-HistoryCap:]
	}
	return merged
}

// Values returns the raw signature strings, oldest first.
func (h History) Values() []string {
	out := make([]string, len(h))
	for i, e := range h {
		out[i] = e.Sig
	}
	return out
}
