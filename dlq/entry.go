package dlq

import (
	"time"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/task"
)

// Entry is a snapshot of a task that failed for the last time.
type Entry struct {
	ID            id.DLQID       `json:"id"`
	TaskID        id.TaskID      `json:"task_id"`
	TaskName      string         `json:"task_name"`
	Queue         string         `json:"queue"`
	Args          task.Args      `json:"args"`
	CorrelationID correlation.ID `json:"correlation_id"`
	Error         string         `json:"error"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	FailedAt      time.Time      `json:"failed_at"`
	ReplayedAt    *time.Time     `json:"replayed_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with e.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Args = e.Args.Clone()
	if e.ReplayedAt != nil {
		t := *e.ReplayedAt
		c.ReplayedAt = &t
	}
	return &c
}
