package dlq

import (
	"context"
	"time"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// Push moves a permanently failed delivery into the DLQ.
	Push(ctx context.Context, entry *Entry) error

	// ListDLQ returns DLQ entries, optionally filtered.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ returns a DLQ entry by ID.
	GetDLQ(ctx context.Context, dlqID id.ID) (*Entry, error)

	// Replay re-enqueues the entry's payload as a fresh pending delivery
	// and stamps ReplayedAt. Entries already replayed are skipped.
	Replay(ctx context.Context, dlqID id.ID) error

	// ReplayBulk replays all unreplayed DLQ entries in a time window.
	ReplayBulk(ctx context.Context, from, to time.Time) (int64, error)

	// Purge deletes DLQ entries that failed before a threshold.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of DLQ entries.
	CountDLQ(ctx context.Context) (int64, error)
}
