package pull

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/files"
	"github.com/blockedby/channel-relay/internal/message"
	"github.com/blockedby/channel-relay/internal/metrics"
	"github.com/blockedby/channel-relay/internal/remote"
	"github.com/blockedby/channel-relay/internal/signature"
	"github.com/blockedby/channel-relay/internal/state"
)

// Aggregator is the subset of the remote client the puller needs.
type Aggregator interface {
	Pull(ctx context.Context, req remote.PullRequest) (*remote.PullResponse, error)
	Cleanup(ctx context.Context, paths []string) error
}

// RemoteConfig tunes the delegated pull path.
type RemoteConfig struct {
	SharedRoot string // filesystem root the service exports files under
	MirrorFile string
}

// Remote delegates fetch and download to the aggregation service and
// relays its ready-made messages.
type Remote struct {
	agg     Aggregator
	store   *state.Store
	sink    message.Sink
	fm      *files.Manager
	metrics *metrics.Metrics
	cfg     RemoteConfig
	log     zerolog.Logger
}

// NewRemote creates the delegated pull client.
func NewRemote(agg Aggregator, store *state.Store, sink message.Sink, fm *files.Manager, m *metrics.Metrics, cfg RemoteConfig, log zerolog.Logger) *Remote {
	if m == nil {
		m = metrics.Nop()
	}
	return &Remote{agg: agg, store: store, sink: sink, fm: fm, metrics: m, cfg: cfg, log: log}
}

// Pull asks the service for new content, delivers it and adopts the
// server-computed digest as the new cursor.
func (r *Remote) Pull(ctx context.Context, channel message.Channel, limit int) (Result, error) {
	st := r.store.Load()
	key := channel.Key()
	chat := st.RemoteAgent.Chats[key]

	resp, err := r.agg.Pull(ctx, remote.PullRequest{
		ChatID:          key,
		Limit:           limit,
		KnownSignatures: chat.RecentSignatures.Values(),
		MinMessageID:    chat.LastMessageID,
		SinceTS:         chat.LastFetchTS,
	})
	if err != nil {
		return Result{}, err
	}
	for _, f := range resp.Failed {
		r.log.Warn().Str("chat", key).Str("item", f).Msg("remote side reported a failed export")
	}

	history := chat.RecentSignatures
	var nodes []message.Node
	var newSigs []string
	var usedDirs []string
	res := Result{}
	for i := range resp.Messages {
		msg := &resp.Messages[i]
		inbound := remoteInbound(key, msg)
		sig := signature.Compute(key, inbound)
		if history.Contains(sig) || contains(newSigs, sig) {
			res.Skipped++
			r.metrics.MessagesSkipped.Inc()
			// the service exported files for this message too; schedule
			// their directories for cleanup even though nothing is relayed
			usedDirs = appendUnique(usedDirs, r.exportDirs(msg)...)
			continue
		}
		newSigs = append(newSigs, sig)

		node, dirs := r.buildNode(msg)
		nodes = append(nodes, node)
		usedDirs = appendUnique(usedDirs, dirs...)
	}

	if len(nodes) > 0 {
		if _, err := r.sink.Deliver(ctx, channel.Target, nodes); err != nil {
			return Result{}, fmt.Errorf("deliver to %s: %w", channel.Target, err)
		}
		res.Sent = len(nodes)
		r.metrics.MessagesSent.Add(float64(res.Sent))
	}

	now := time.Now()
	chat.LastMessageID = resp.State.LastMessageID
	chat.LastFetchTS = resp.State.LastFetchTS
	if chat.LastFetchTS == 0 {
		chat.LastFetchTS = now.Unix()
	}
	chat.RecentSignatures = signature.Merge(history, newSigs, now)
	chat.UpdatedAt = now
	st.RemoteAgent.Chats[key] = chat
	if err := r.store.Save(st); err != nil {
		return res, fmt.Errorf("save state: %w", err)
	}
	r.store.SyncMirror(r.cfg.MirrorFile, key, chat)

	// ask the service to drop the export directories it used; log-only
	if len(usedDirs) > 0 {
		if err := r.agg.Cleanup(ctx, usedDirs); err != nil {
			r.log.Warn().Err(err).Str("chat", key).Msg("remote cleanup failed")
		}
	}

	r.log.Info().
		Str("chat", key).
		Int("sent", res.Sent).
		Int("skipped", res.Skipped).
		Int64("last_message_id", chat.LastMessageID).
		Msg("remote pull completed")
	return res, nil
}

// buildNode assembles one node from an exported message, validating each
// referenced file is present and rooted under the shared download root.
// Invalid files degrade to placeholder text segments.
func (r *Remote) buildNode(msg *remote.Message) (message.Node, []string) {
	var node message.Node
	var dirs []string

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text != "" {
		node = append(node, message.Text(text))
	}

	for _, f := range msg.Files {
		if err := r.fm.CheckWithin(r.cfg.SharedRoot, f.Path); err != nil {
			r.log.Warn().Err(err).Str("path", f.Path).Msg("exported file escapes shared root, ignored")
			node = append(node, message.Text(fmt.Sprintf("[%s could not be relayed]", f.Kind)))
			continue
		}
		info, err := os.Stat(f.Path)
		if err != nil || info.Size() == 0 {
			r.log.Warn().Str("path", f.Path).Msg("exported file missing or empty, ignored")
			node = append(node, message.Text(fmt.Sprintf("[%s could not be relayed]", f.Kind)))
			continue
		}
		node = append(node, files.Segment(f.Path))
		dirs = append(dirs, filepath.Dir(f.Path))
	}

	if len(node) == 0 {
		node = message.Node{message.Text("[message unavailable]")}
	}
	return node, dirs
}

// exportDirs lists the export directories of a message's files without
// touching the files themselves. Paths outside the shared root are ignored.
func (r *Remote) exportDirs(msg *remote.Message) []string {
	var dirs []string
	for _, f := range msg.Files {
		if err := r.fm.CheckWithin(r.cfg.SharedRoot, f.Path); err != nil {
			continue
		}
		dirs = append(dirs, filepath.Dir(f.Path))
	}
	return dirs
}

// remoteInbound maps an exported message onto the shared model so the same
// signature function covers both pull paths. Exported file paths stand in
// for the platform file ids.
func remoteInbound(channelKey string, msg *remote.Message) *message.Inbound {
	inbound := &message.Inbound{
		ChannelKey:   channelKey,
		MessageID:    msg.MessageID,
		MediaGroupID: msg.MediaGroupID,
		Text:         msg.Text,
		Caption:      msg.Caption,
	}
	for _, f := range msg.Files {
		inbound.Attachments = append(inbound.Attachments, message.Attachment{
			Kind:     message.AttachmentKind(f.Kind),
			FileID:   f.Path,
			FileName: f.Name,
			Size:     f.Size,
		})
		inbound.LocalPaths = append(inbound.LocalPaths, f.Path)
	}
	return inbound
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
