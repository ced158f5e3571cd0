package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/ext"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

type allHooks struct{ calls []string }

func (e *allHooks) Name() string { return "all" }
func (e *allHooks) record(s string) error {
	e.calls = append(e.calls, s)
	return nil
}
func (e *allHooks) OnTaskEnqueued(context.Context, *task.Record) error { return e.record("enqueued") }
func (e *allHooks) OnTaskStarted(context.Context, *task.Record) error  { return e.record("started") }
func (e *allHooks) OnTaskRetrying(context.Context, *task.Record, time.Time) error {
	return e.record("retrying")
}
func (e *allHooks) OnTaskCompleted(context.Context, *task.Record, time.Duration) error {
	return e.record("completed")
}
func (e *allHooks) OnTaskFailed(context.Context, *task.Record, error) error { return e.record("failed") }
func (e *allHooks) OnTaskCancelled(context.Context, *task.Record) error     { return e.record("cancelled") }
func (e *allHooks) OnMessageHandled(context.Context, string, correlation.ID, status.Status, time.Duration) error {
	return e.record("handled")
}
func (e *allHooks) OnMessageRejected(context.Context, string, error) error { return e.record("rejected") }
func (e *allHooks) OnShutdown(context.Context) error                       { return e.record("shutdown") }

type enqueueOnly struct{ n int }

func (e *enqueueOnly) Name() string { return "enqueue-only" }
func (e *enqueueOnly) OnTaskEnqueued(context.Context, *task.Record) error {
	e.n++
	return nil
}

type failing struct{}

func (failing) Name() string                                       { return "failing" }
func (failing) OnTaskEnqueued(context.Context, *task.Record) error { return errors.New("boom") }

func TestRegistry_EmitsEveryHook(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooks{}
	r.Register(all)

	ctx := context.Background()
	rec := task.NewRecord("ping", nil, "abc")
	r.EmitTaskEnqueued(ctx, rec)
	r.EmitTaskStarted(ctx, rec)
	r.EmitTaskRetrying(ctx, rec, time.Now())
	r.EmitTaskCompleted(ctx, rec, time.Second)
	r.EmitTaskFailed(ctx, rec, errors.New("x"))
	r.EmitTaskCancelled(ctx, rec)
	r.EmitMessageHandled(ctx, "in-topic", "abc", status.Completed, time.Millisecond)
	r.EmitMessageRejected(ctx, "in-topic", errors.New("bad"))
	r.EmitShutdown(ctx)

	want := []string{"enqueued", "started", "retrying", "completed", "failed", "cancelled", "handled", "rejected", "shutdown"}
	if !reflect.DeepEqual(all.calls, want) {
		t.Errorf("calls = %v\nwant    %v", all.calls, want)
	}
}

func TestRegistry_OnlyInterestedHooks(t *testing.T) {
	r := ext.NewRegistry(nil)
	only := &enqueueOnly{}
	r.Register(only)
	ctx := context.Background()
	rec := task.NewRecord("ping", nil, "abc")

	r.EmitTaskEnqueued(ctx, rec)
	r.EmitTaskCompleted(ctx, rec, 0)
	r.EmitShutdown(ctx)
	if only.n != 1 {
		t.Errorf("OnTaskEnqueued called %d times, want 1", only.n)
	}
	if len(r.Extensions()) != 1 {
		t.Errorf("Extensions = %d", len(r.Extensions()))
	}
}

func TestRegistry_HookErrorsAreLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	after := &enqueueOnly{}
	r.Register(failing{})
	r.Register(after)

	r.EmitTaskEnqueued(context.Background(), task.NewRecord("ping", nil, "abc"))

	if after.n != 1 {
		t.Error("a failing hook stopped later extensions")
	}
	out := buf.String()
	if !strings.Contains(out, "extension=failing") || !strings.Contains(out, "boom") {
		t.Errorf("log = %q", out)
	}
}
