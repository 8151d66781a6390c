// Package message defines the platform-neutral message model shared by the
// pull clients, the hybrid downloader and the delivery sink.
package message

import (
	"context"
	"fmt"
)

// AttachmentKind classifies an attachment for routing and segment typing.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindVideo    AttachmentKind = "video"
	KindAudio    AttachmentKind = "audio"
	KindDocument AttachmentKind = "document"
)

// Attachment is one downloadable item of an inbound message.
type Attachment struct {
	Kind     AttachmentKind // image|video|document|audio
	FileID   string         // source-platform unique file id
	FileName string         // display name, may be empty
	Size     int64          // expected size in bytes, 0 if unknown
}

// Inbound is a raw message fetched from the source platform, stripped of
// transport metadata. Two structurally identical inbounds must produce the
// same signature regardless of server-assigned sequence numbers.
type Inbound struct {
	ChannelKey   string
	MessageID    int64
	MediaGroupID string // groups album messages, empty otherwise
	Text         string
	Caption      string
	Attachments  []Attachment
	LocalPaths   []string // pre-downloaded files (remote pull path), aligned with Attachments
}

// LargestAttachment returns the biggest expected size among attachments,
// 0 when the message carries none.
func (m *Inbound) LargestAttachment() int64 {
	var max int64
	for _, a := range m.Attachments {
		if a.Size > max {
			max = a.Size
		}
	}
	return max
}

// SegmentKind is the type of one outbound message segment.
type SegmentKind string

const (
	SegText  SegmentKind = "text"
	SegImage SegmentKind = "image"
	SegVideo SegmentKind = "video"
	SegAudio SegmentKind = "audio"
	SegFile  SegmentKind = "file"
)

// Segment is one piece of a deliverable node: either text or a typed
// reference to a downloaded file.
type Segment struct {
	Kind SegmentKind
	Text string // set for SegText
	Path string // set for attachment segments
}

// Text builds a plain text segment.
func Text(s string) Segment {
	return Segment{Kind: SegText, Text: s}
}

// Node is one deliverable unit: ordered segments of text and attachments.
type Node []Segment

// Target identifies the delivery destination: exactly one of UserID or
// GroupID is set.
type Target struct {
	UserID  int64
	GroupID int64
}

// String renders the target for logs and summaries.
func (t Target) String() string {
	if t.GroupID != 0 {
		return fmt.Sprintf("group:%d", t.GroupID)
	}
	return fmt.Sprintf("user:%d", t.UserID)
}

// Valid reports whether exactly one destination is set.
func (t Target) Valid() bool {
	return (t.UserID != 0) != (t.GroupID != 0)
}

// Sink batches nodes into one outbound message and dispatches it.
// Implementations raise an error when the destination cannot be resolved.
type Sink interface {
	Deliver(ctx context.Context, target Target, nodes []Node) (sent int, err error)
}

// Channel describes one monitored source channel. Immutable per pull
// invocation.
type Channel struct {
	ID     int64  `yaml:"id"`     // numeric channel id, 0 if unknown
	Handle string `yaml:"handle"` // public handle, with or without @
	Alias  string `yaml:"alias"`  // optional display label
	Target Target `yaml:"-"`

	// destination columns for the YAML channel list
	ToUser  int64 `yaml:"to_user"`
	ToGroup int64 `yaml:"to_group"`
}

// Key returns the state key for the channel: numeric id first, then handle,
// then alias, then "unknown".
func (c Channel) Key() string {
	switch {
	case c.ID != 0:
		return fmt.Sprintf("%d", c.ID)
	case c.Handle != "":
		return trimAt(c.Handle)
	case c.Alias != "":
		return c.Alias
	default:
		return "unknown"
	}
}

// Label returns the best human-readable name for summaries.
func (c Channel) Label() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Key()
}

func trimAt(s string) string {
	if len(s) > 0 && s[0] == '@' {
		return s[1:]
	}
	return s
}
