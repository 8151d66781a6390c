package pull

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/downloader"
	"github.com/blockedby/channel-relay/internal/files"
	"github.com/blockedby/channel-relay/internal/message"
	"github.com/blockedby/channel-relay/internal/metrics"
	"github.com/blockedby/channel-relay/internal/signature"
	"github.com/blockedby/channel-relay/internal/state"
)

// pollBatch is the raw update request size, the platform caps it at 100.
const pollBatch = 100

// UpdateSource polls raw updates from the source platform.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, limit int) ([]tgbotapi.Update, error)
}

// LocalConfig tunes the direct polling path.
type LocalConfig struct {
	RetentionDays int    // 0 disables the retention sweep
	MirrorFile    string // remote agent's digest file, empty disables mirroring
}

// Local polls the source platform directly, routes attachments through the
// hybrid downloader and delivers assembled nodes to the sink.
type Local struct {
	source  UpdateSource
	store   *state.Store
	sink    message.Sink
	dl      *downloader.Downloader
	fm      *files.Manager
	metrics *metrics.Metrics
	cfg     LocalConfig
	log     zerolog.Logger
}

// NewLocal creates the direct polling client.
func NewLocal(source UpdateSource, store *state.Store, sink message.Sink, dl *downloader.Downloader, fm *files.Manager, m *metrics.Metrics, cfg LocalConfig, log zerolog.Logger) *Local {
	if m == nil {
		m = metrics.Nop()
	}
	return &Local{source: source, store: store, sink: sink, dl: dl, fm: fm, metrics: m, cfg: cfg, log: log}
}

// Pull fetches raw updates past the global poll offset, relays the last
// `limit` matched messages and persists the advanced cursors.
func (l *Local) Pull(ctx context.Context, channel message.Channel, limit int) (Result, error) {
	st := l.store.Load()
	key := channel.Key()

	updates, err := l.source.GetUpdates(ctx, st.LocalAgent.LastUpdateID+1, pollBatch)
	if err != nil {
		return Result{}, fmt.Errorf("poll updates: %w", err)
	}

	// track max indices regardless of match so the offset advances even
	// when nothing matched this channel
	maxUpdateID := st.LocalAgent.LastUpdateID
	var matched []*tgbotapi.Message
	for i := range updates {
		upd := &updates[i]
		if int64(upd.UpdateID) > maxUpdateID {
			maxUpdateID = int64(upd.UpdateID)
		}
		post := channelPost(upd)
		if post == nil {
			continue
		}
		if matches(channel, post.Chat) {
			matched = append(matched, post)
		}
	}

	// most-recent-first truncation to the batch limit
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	chat := st.LocalAgent.Chats[key]
	history := chat.RecentSignatures
	maxMsgID := chat.LastMessageID

	var nodes []message.Node
	var newSigs []string
	res := Result{}
	for _, post := range matched {
		if int64(post.MessageID) > maxMsgID {
			maxMsgID = int64(post.MessageID)
		}

		inbound := toInbound(key, post)
		sig := signature.Compute(key, inbound)
		if history.Contains(sig) || contains(newSigs, sig) {
			res.Skipped++
			l.metrics.MessagesSkipped.Inc()
			continue
		}
		newSigs = append(newSigs, sig)

		dlRes := l.dl.Process(ctx, key, inbound)
		nodes = append(nodes, dlRes.Node)
	}

	if len(nodes) > 0 {
		if _, err := l.sink.Deliver(ctx, channel.Target, nodes); err != nil {
			return Result{}, fmt.Errorf("deliver to %s: %w", channel.Target, err)
		}
		res.Sent = len(nodes)
		l.metrics.MessagesSent.Add(float64(res.Sent))
	}

	now := time.Now()
	st.LocalAgent.LastUpdateID = maxUpdateID
	chat.LastMessageID = maxMsgID
	chat.LastFetchTS = now.Unix()
	chat.RecentSignatures = signature.Merge(history, newSigs, now)
	chat.UpdatedAt = now
	st.LocalAgent.Chats[key] = chat
	if err := l.store.Save(st); err != nil {
		return res, fmt.Errorf("save state: %w", err)
	}
	l.store.SyncMirror(l.cfg.MirrorFile, key, chat)

	if l.cfg.RetentionDays > 0 {
		l.fm.Sweep(time.Duration(l.cfg.RetentionDays)*24*time.Hour, now)
	}

	l.log.Info().
		Str("chat", key).
		Int("sent", res.Sent).
		Int("skipped", res.Skipped).
		Int64("last_update_id", maxUpdateID).
		Int64("last_message_id", maxMsgID).
		Msg("local pull completed")
	return res, nil
}

// channelPost extracts the relevant message from a raw update.
func channelPost(upd *tgbotapi.Update) *tgbotapi.Message {
	if upd.ChannelPost != nil {
		return upd.ChannelPost
	}
	return upd.Message
}

// matches checks the chat against the channel descriptor: numeric id first,
// then case-sensitive handle after stripping a leading "@".
func matches(channel message.Channel, chat *tgbotapi.Chat) bool {
	if chat == nil {
		return false
	}
	if channel.ID != 0 {
		return chat.ID == channel.ID
	}
	if channel.Handle != "" {
		return chat.UserName == trimAt(channel.Handle)
	}
	return false
}

func trimAt(s string) string {
	if len(s) > 0 && s[0] == '@' {
		return s[1:]
	}
	return s
}

// toInbound converts a raw message: text or caption as plain text, the
// largest image variant, the single instance of other attachment kinds.
func toInbound(channelKey string, post *tgbotapi.Message) *message.Inbound {
	inbound := &message.Inbound{
		ChannelKey:   channelKey,
		MessageID:    int64(post.MessageID),
		MediaGroupID: post.MediaGroupID,
		Text:         post.Text,
		Caption:      post.Caption,
	}

	if len(post.Photo) > 0 {
		best := post.Photo[0]
		for _, p := range post.Photo[1:] {
			if p.FileSize > best.FileSize {
				best = p
			}
		}
		inbound.Attachments = append(inbound.Attachments, message.Attachment{
			Kind:   message.KindImage,
			FileID: best.FileID,
			Size:   int64(best.FileSize),
		})
	}
	if v := post.Video; v != nil {
		inbound.Attachments = append(inbound.Attachments, message.Attachment{
			Kind:     message.KindVideo,
			FileID:   v.FileID,
			FileName: v.FileName,
			Size:     int64(v.FileSize),
		})
	}
	if doc := post.Document; doc != nil {
		inbound.Attachments = append(inbound.Attachments, message.Attachment{
			Kind:     message.KindDocument,
			FileID:   doc.FileID,
			FileName: doc.FileName,
			Size:     int64(doc.FileSize),
		})
	}
	if a := post.Audio; a != nil {
		inbound.Attachments = append(inbound.Attachments, message.Attachment{
			Kind:     message.KindAudio,
			FileID:   a.FileID,
			FileName: a.FileName,
			Size:     int64(a.FileSize),
		})
	}
	return inbound
}

func contains(sigs []string, sig string) bool {
	for _, s := range sigs {
		if s == sig {
			return true
		}
	}
	return false
}
