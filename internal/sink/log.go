// Package sink provides delivery backends for assembled nodes. The real
// destination-platform sender is an external collaborator; LogSink is the
// built-in stand-in used for dry runs and tests.
package sink

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/message"
)

// LogSink writes each batched delivery to the log instead of a chat
// platform.
type LogSink struct {
	log zerolog.Logger
}

// NewLog creates a log-backed sink.
func NewLog(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Deliver batches the nodes into one log record per node.
func (s *LogSink) Deliver(_ context.Context, target message.Target, nodes []message.Node) (int, error) {
	if !target.Valid() {
		return 0, fmt.Errorf("unresolvable delivery target %s", target)
	}
	for _, node := range nodes {
		ev := s.log.Info().Str("target", target.String())
		for i, seg := range node {
			key := fmt.Sprintf("seg_%d_%s", i, seg.Kind)
			if seg.Kind == message.SegText {
				ev = ev.Str(key, seg.Text)
			} else {
				ev = ev.Str(key, seg.Path)
			}
		}
		ev.Msg("delivered node")
	}
	return len(nodes), nil
}

var _ message.Sink = (*LogSink)(nil)
