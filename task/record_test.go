package task_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

func TestNewRecord(t *testing.T) {
	rec := task.NewRecord("ping", task.Args{"message": "abc"}, "abc", task.WithMaxAttempts(3))
	if rec.ID.IsNil() || rec.ID.Prefix() != "task" {
		t.Errorf("ID = %q", rec.ID)
	}
	if rec.State != status.Received || rec.StateLabel() != "queued" {
		t.Errorf("state = %s (%s)", rec.State, rec.StateLabel())
	}
	if rec.CorrelationID != "abc" || rec.Attempt != 0 || rec.MaxAttempts != 3 {
		t.Errorf("record = %+v", rec)
	}
	if !rec.Ready(time.Now().Add(time.Second)) {
		t.Error("new record should be ready")
	}

	generated := task.NewRecord("ping", nil, correlation.None)
	if generated.CorrelationID.IsNone() {
		t.Error("expected generated correlation id")
	}
}

func TestRecord_RetryScenarioHistory(t *testing.T) {
	rec := task.NewRecord("ping", nil, "abc", task.WithMaxAttempts(3))
	steps := []func() error{
		rec.Claim,
		func() error { return rec.Transition(status.Retrying) },
		rec.Claim,
		func() error { return rec.Transition(status.Retrying) },
		rec.Claim,
		func() error { return rec.Transition(status.Completed) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	want := []status.Status{
		status.Received, status.Processing, status.Retrying, status.Processing,
		status.Retrying, status.Processing, status.Completed,
	}
	if !reflect.DeepEqual(rec.History, want) {
		t.Errorf("History = %v\nwant      %v", rec.History, want)
	}
	if rec.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", rec.Attempt)
	}
	if rec.StartedAt == nil || rec.FinishedAt == nil {
		t.Error("timestamps not set")
	}
	if rec.StateLabel() != "success" {
		t.Errorf("label = %s", rec.StateLabel())
	}
}

func TestRecord_CanRetry(t *testing.T) {
	rec := task.NewRecord("ping", nil, "x", task.WithMaxAttempts(2))
	_ = rec.Claim()
	if !rec.CanRetry() {
		t.Error("attempt 1 of 2 should retry")
	}
	_ = rec.Transition(status.Retrying)
	_ = rec.Claim()
	if rec.CanRetry() {
		t.Error("attempt 2 of 2 should not retry")
	}
}

func TestRecord_TransitionRejected(t *testing.T) {
	rec := task.NewRecord("ping", nil, "x")
	err := rec.Transition(status.Completed)
	if !errors.Is(err, conduit.ErrInvalidTransition) {
		t.Fatalf("err = %v", err)
	}
	if rec.State != status.Received || len(rec.History) != 1 {
		t.Errorf("record mutated by rejected transition: %+v", rec)
	}
}

func TestApplyCancel(t *testing.T) {
	queued := task.NewRecord("ping", nil, "x")
	if err := task.ApplyCancel(queued); err != nil || queued.State != status.Cancelled {
		t.Errorf("queued cancel: %v, state %s", err, queued.State)
	}

	running := task.NewRecord("ping", nil, "x")
	_ = running.Claim()
	if err := task.ApplyCancel(running); err != nil || !running.CancelRequested || running.State != status.Processing {
		t.Errorf("running cancel: %v, %+v", err, running)
	}

	done := task.NewRecord("ping", nil, "x")
	_ = done.Claim()
	_ = done.Transition(status.Completed)
	if err := task.ApplyCancel(done); !errors.Is(err, conduit.ErrInvalidTransition) {
		t.Errorf("terminal cancel err = %v", err)
	}
}

func TestRecord_Clone(t *testing.T) {
	rec := task.NewRecord("ping", task.Args{"k": "v"}, "x")
	_ = rec.Claim()
	c := rec.Clone()
	c.Args["k"] = "changed"
	c.History[0] = status.Failed
	*c.StartedAt = time.Time{}
	if rec.Args.String("k") != "v" || rec.History[0] != status.Received || rec.StartedAt.IsZero() {
		t.Error("Clone shares state with the original")
	}
}

func TestLabel(t *testing.T) {
	tests := map[status.Status]string{
		status.Received: "queued", status.Processing: "running", status.Completed: "success",
		status.Failed: "failed", status.Retrying: "retrying", status.Cancelled: "cancelled",
	}
	for s, want := range tests {
		if got := task.Label(s); got != want {
			t.Errorf("Label(%s) = %s, want %s", s, got, want)
		}
	}
}
