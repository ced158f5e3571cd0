package task

import (
	"context"
	"time"

	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/status"
)

// ListOpts filters List.
type ListOpts struct {
	// State filters by state. Empty means all states.
	State status.Status
	// Queue filters by queue. Empty means all queues.
	Queue string
	// Limit caps the result. Zero means no limit.
	Limit int
}

// Store persists task records. Implementations must make Dequeue and
// Cancel atomic with respect to each other so a record is never both
// claimed and cancelled from RECEIVED.
type Store interface {
	// Enqueue persists a new RECEIVED record and makes it claimable at
	// RunAt. A duplicate ID returns conduit.ErrTaskExists.
	Enqueue(ctx context.Context, r *Record) error

	// Dequeue claims up to limit ready records from queues: each is moved
	// to PROCESSING with Attempt incremented (Record.Claim) and returned.
	// Records are ordered by RunAt.
	Dequeue(ctx context.Context, queues []string, limit int) ([]*Record, error)

	// Get returns the record or conduit.ErrTaskNotFound.
	Get(ctx context.Context, taskID id.TaskID) (*Record, error)

	// Update persists r. It never clears a pending cancel request.
	Update(ctx context.Context, r *Record) error

	// Requeue persists a RETRYING r and makes it claimable again at r.RunAt.
	Requeue(ctx context.Context, r *Record) error

	// Cancel cancels a queued record atomically (RECEIVED to CANCELLED).
	// For a PROCESSING or RETRYING record it sets CancelRequested, which
	// the worker honours. Terminal records return an error wrapping
	// conduit.ErrInvalidTransition.
	Cancel(ctx context.Context, taskID id.TaskID) (*Record, error)

	// List returns records matching opts, oldest first.
	List(ctx context.Context, opts ListOpts) ([]*Record, error)

	// Ping checks connectivity with the backend.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// ApplyCancel applies Store.Cancel semantics to r in place. Backends call
// it while holding whatever lock or transaction makes the cancel atomic.
func ApplyCancel(r *Record) error {
	switch r.State {
	case status.Received:
		return r.Transition(status.Cancelled)
	case status.Processing, status.Retrying:
		r.CancelRequested = true
		r.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return status.Validate(r.State, status.Cancelled)
	}
}
