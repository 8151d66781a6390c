// Package pull implements the two interchangeable pull strategies: direct
// polling of the source platform and delegated fetch through the remote
// aggregation service.
package pull

import (
	"context"

	"github.com/blockedby/channel-relay/internal/message"
)

// Result is the per-channel outcome of one pull cycle.
type Result struct {
	Sent    int // nodes delivered to the sink
	Skipped int // messages dropped by signature deduplication
}

// Puller fetches new messages for one channel and delivers them.
type Puller interface {
	Pull(ctx context.Context, channel message.Channel, limit int) (Result, error)
}
