package dlq

import (
	"context"
	"time"

	"github.com/xraph/conduit/id"
)

// ListOpts filters ListDLQ.
type ListOpts struct {
	// Limit caps the result. Zero means no limit.
	Limit int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Store persists dead-letter entries.
type Store interface {
	// PushDLQ adds an entry.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching opts, oldest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ returns an entry or conduit.ErrDLQNotFound.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ stamps ReplayedAt on an entry.
	ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error

	// CountDLQ returns the number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
