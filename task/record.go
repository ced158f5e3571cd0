package task

import (
	"strings"
	"time"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/status"
)

// Record is a unit of deferred work. It is created on enqueue and mutated
// only by the worker that claimed it.
type Record struct {
	ID              id.TaskID       `json:"id"`
	Name            string          `json:"name"`
	Queue           string          `json:"queue"`
	Args            Args            `json:"args"`
	CorrelationID   correlation.ID  `json:"correlation_id"`
	Attempt         int             `json:"attempt"`
	MaxAttempts     int             `json:"max_attempts"`
	State           status.Status   `json:"state"`
	History         []status.Status `json:"history"`
	LastError       string          `json:"last_error,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	RunAt           time.Time       `json:"run_at"`
	Timeout         time.Duration   `json:"timeout,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// NewRecord builds a RECEIVED record with default options applied. A None
// correlation id is replaced by a fresh one.
func NewRecord(name string, args Args, cid correlation.ID, opts ...Option) *Record {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newRecord(name, args, cid, o)
}

func newRecord(name string, args Args, cid correlation.ID, o Options) *Record {
	now := time.Now().UTC()
	if args == nil {
		args = Args{}
	}
	return &Record{
		ID:            id.NewTaskID(),
		Name:          name,
		Queue:         o.Queue,
		Args:          args,
		CorrelationID: correlation.OrNew(cid),
		MaxAttempts:   o.MaxAttempts,
		State:         status.Received,
		History:       []status.Status{status.Received},
		RunAt:         now.Add(o.Delay),
		Timeout:       o.Timeout,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the record to next, appending to History. A transition
// outside the status table wraps conduit.ErrInvalidTransition and leaves
// the record untouched.
func (r *Record) Transition(next status.Status) error {
	if err := status.Validate(r.State, next); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.State = next
	r.History = append(r.History, next)
	r.UpdatedAt = now
	switch {
	case next == status.Processing && r.StartedAt == nil:
		r.StartedAt = &now
	case next.IsTerminal():
		r.FinishedAt = &now
	}
	return nil
}

// Claim moves a queued or retrying record to PROCESSING and counts the
// attempt. Stores call it when a worker dequeues the record.
func (r *Record) Claim() error {
	if err := r.Transition(status.Processing); err != nil {
		return err
	}
	r.Attempt++
	return nil
}

// Ready reports whether the record may be claimed at now.
func (r *Record) Ready(now time.Time) bool {
	return (r.State == status.Received || r.State == status.Retrying) && !r.RunAt.After(now)
}

// CanRetry reports whether a failed attempt leaves room for another one.
func (r *Record) CanRetry() bool { return r.Attempt < r.MaxAttempts }

// StateLabel returns the queue-facing name of the record's state.
func (r *Record) StateLabel() string { return Label(r.State) }

// Label maps a status to the task vocabulary: queued, running, success,
// and the lower-cased status name otherwise.
func Label(s status.Status) string {
	switch s {
	case status.Received:
		return "queued"
	case status.Processing:
		return "running"
	case status.Completed:
		return "success"
	default:
		return strings.ToLower(s.String())
	}
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	c := *r
	c.Args = r.Args.Clone()
	c.History = append([]status.Status(nil), r.History...)
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
