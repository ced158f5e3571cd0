package dispatcher_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/broker"
	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/dispatcher"
	"github.com/xraph/conduit/ext"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/store/memory"
	"github.com/xraph/conduit/task"
)

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// hangingStore blocks Enqueue until the context ends.
type hangingStore struct{ *memory.Store }

func (hangingStore) Enqueue(ctx context.Context, _ *task.Record) error {
	<-ctx.Done()
	return ctx.Err()
}

type enqueueCounter struct {
	mu    sync.Mutex
	names []string
}

func (c *enqueueCounter) Name() string { return "counter" }

func (c *enqueueCounter) OnTaskEnqueued(_ context.Context, r *task.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, r.Name)
	return nil
}

func TestEnqueue_PersistsReceivedRecord(t *testing.T) {
	s := memory.New()
	counter := &enqueueCounter{}
	reg := ext.NewRegistry(nil)
	reg.Register(counter)
	d := dispatcher.New(s, nil, dispatcher.WithExtensions(reg))
	d.Register("ping", func(context.Context, task.Args) error { return nil }, task.WithMaxAttempts(3))

	taskID, err := d.Enqueue(context.Background(), "ping", task.Args{"k": "v"}, "abc")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	rec, err := d.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != status.Received || rec.CorrelationID != "abc" || rec.MaxAttempts != 3 || rec.Args.String("k") != "v" {
		t.Errorf("record = %+v", rec)
	}
	if rec.StateLabel() != "queued" {
		t.Errorf("label = %q", rec.StateLabel())
	}
	if len(counter.names) != 1 || counter.names[0] != "ping" {
		t.Errorf("enqueued hook saw %v", counter.names)
	}
}

func TestEnqueue_CorrelationFromContext(t *testing.T) {
	d := dispatcher.New(memory.New(), nil)

	ctx := correlation.WithID(context.Background(), "from-ctx")
	taskID, err := d.Enqueue(ctx, "ping", nil, correlation.None)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := d.Get(ctx, taskID)
	if rec.CorrelationID != "from-ctx" {
		t.Errorf("correlation id = %q", rec.CorrelationID)
	}

	taskID, _ = d.Enqueue(context.Background(), "ping", nil, correlation.None)
	rec, _ = d.Get(ctx, taskID)
	if rec.CorrelationID.IsNone() {
		t.Error("no correlation id generated")
	}
}

func TestEnqueue_OptionsOverrideRegistration(t *testing.T) {
	d := dispatcher.New(memory.New(), nil)
	d.Register("ping", func(context.Context, task.Args) error { return nil }, task.WithMaxAttempts(2), task.WithQueue("low"))

	taskID, _ := d.Enqueue(context.Background(), "ping", nil, "c", task.WithMaxAttempts(7))
	rec, _ := d.Get(context.Background(), taskID)
	if rec.MaxAttempts != 7 || rec.Queue != "low" {
		t.Errorf("max_attempts=%d queue=%q", rec.MaxAttempts, rec.Queue)
	}
}

func TestEnqueueTyped(t *testing.T) {
	d := dispatcher.New(memory.New(), nil)
	type email struct {
		To string `json:"to"`
	}
	taskID, err := dispatcher.EnqueueTyped(context.Background(), d, "send", email{To: "a@b.c"}, "c")
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := d.Get(context.Background(), taskID)
	var got email
	if err := rec.Args.Decode(&got); err != nil || got.To != "a@b.c" {
		t.Errorf("args = %v (%v)", rec.Args, err)
	}

	if _, err := dispatcher.EnqueueTyped(context.Background(), d, "bad", func() {}, "c"); !errors.Is(err, conduit.ErrSerialization) {
		t.Errorf("unserialisable args: %v", err)
	}
}

func TestEnqueue_UnavailableFailsFastAndLogsOnce(t *testing.T) {
	logs := &lockedBuffer{}
	d := dispatcher.New(memory.New(), nil,
		dispatcher.WithAvailability(broker.Unavailable("connection refused")),
		dispatcher.WithLogger(slog.New(slog.NewTextHandler(logs, nil))),
	)

	start := time.Now()
	for range 5 {
		if _, err := d.Enqueue(context.Background(), "ping", nil, "c"); !errors.Is(err, conduit.ErrBrokerUnavailable) {
			t.Fatalf("err = %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("unavailable enqueue took %s", time.Since(start))
	}
	if n := strings.Count(logs.String(), "task broker unavailable"); n != 1 {
		t.Errorf("unavailable logged %d times", n)
	}
}

func TestNew_NilStoreIsUnavailable(t *testing.T) {
	d := dispatcher.New(nil, nil, dispatcher.WithLogger(slog.New(slog.DiscardHandler)))
	if d.Availability().OK() {
		t.Fatal("nil store reported available")
	}
	if _, err := d.Enqueue(context.Background(), "ping", nil, "c"); !errors.Is(err, conduit.ErrBrokerUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestEnqueue_BoundedByTimeout(t *testing.T) {
	d := dispatcher.New(hangingStore{memory.New()}, nil,
		dispatcher.WithEnqueueTimeout(30*time.Millisecond),
		dispatcher.WithLogger(slog.New(slog.DiscardHandler)),
	)

	start := time.Now()
	_, err := d.Enqueue(context.Background(), "ping", nil, "c")
	if !errors.Is(err, conduit.ErrBrokerUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("enqueue took %s", time.Since(start))
	}
}

func TestCancel(t *testing.T) {
	d := dispatcher.New(memory.New(), nil)
	ctx := context.Background()

	taskID, _ := d.Enqueue(ctx, "ping", nil, "c")
	rec, err := d.Cancel(ctx, taskID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.State != status.Cancelled {
		t.Errorf("state = %s", rec.State)
	}

	if _, err := d.Cancel(ctx, taskID); !errors.Is(err, conduit.ErrInvalidTransition) {
		t.Errorf("second cancel: %v", err)
	}
}

type fakeCanceller struct{ called bool }

func (f *fakeCanceller) CancelTask(context.Context, id.TaskID) (*task.Record, error) {
	f.called = true
	r := task.NewRecord("x", nil, "c")
	_ = r.Transition(status.Cancelled)
	return r, nil
}

func TestCancel_UsesCanceller(t *testing.T) {
	c := &fakeCanceller{}
	d := dispatcher.New(memory.New(), nil, dispatcher.WithCanceller(c))
	if _, err := d.Cancel(context.Background(), id.NewTaskID()); err != nil {
		t.Fatal(err)
	}
	if !c.called {
		t.Error("canceller not used")
	}
}

func TestList(t *testing.T) {
	d := dispatcher.New(memory.New(), nil)
	ctx := context.Background()
	for range 3 {
		_, _ = d.Enqueue(ctx, "ping", nil, "c")
	}
	recs, err := d.List(ctx, task.ListOpts{State: status.Received})
	if err != nil || len(recs) != 3 {
		t.Fatalf("list = %d, %v", len(recs), err)
	}
}
