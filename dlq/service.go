package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/task"
)

// Service pushes failed tasks and replays entries.
type Service struct {
	store Store
	tasks task.Store
}

// NewService creates a Service. tasks receives replayed tasks.
func NewService(store Store, tasks task.Store) *Service {
	return &Service{store: store, tasks: tasks}
}

// Push records rec's terminal failure.
func (s *Service) Push(ctx context.Context, rec *task.Record, cause error) error {
	msg := rec.LastError
	if cause != nil {
		msg = cause.Error()
	}
	return s.store.PushDLQ(ctx, &Entry{
		ID:            id.NewDLQID(),
		TaskID:        rec.ID,
		TaskName:      rec.Name,
		Queue:         rec.Queue,
		Args:          rec.Args.Clone(),
		CorrelationID: rec.CorrelationID,
		Error:         msg,
		Attempts:      rec.Attempt,
		MaxAttempts:   rec.MaxAttempts,
		FailedAt:      time.Now().UTC(),
	})
}

// Replay enqueues a new RECEIVED task from the entry with a fresh attempt
// budget, then stamps the entry as replayed. If stamping fails the task is
// already enqueued and is returned with the error.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*task.Record, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	rec := task.NewRecord(entry.TaskName, entry.Args.Clone(), entry.CorrelationID,
		task.WithQueue(entry.Queue), task.WithMaxAttempts(entry.MaxAttempts))
	if err := s.tasks.Enqueue(ctx, rec); err != nil {
		return nil, fmt.Errorf("dlq: replay %s: %w", entryID, err)
	}
	if err := s.store.ReplayDLQ(ctx, entryID, time.Now().UTC()); err != nil {
		return rec, err
	}
	return rec, nil
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }
