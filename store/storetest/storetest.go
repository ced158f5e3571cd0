// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/store"
	"github.com/xraph/conduit/task"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"DequeueClaims", testDequeueClaims},
		{"DequeueHonoursRunAtQueuesAndLimit", testDequeueFilters},
		{"RequeueRetrying", testRequeue},
		{"UpdateKeepsCancelRequest", testUpdateKeepsCancel},
		{"Cancel", testCancel},
		{"List", testList},
		{"ConcurrentDequeueClaimsOnce", testConcurrentDequeue},
		{"CancelDuringDequeue", testCancelDuringDequeue},
		{"DLQ", testDLQ},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			if err := s.Migrate(context.Background()); err != nil {
				t.Fatalf("Migrate: %v", err)
			}
			tt.fn(t, s)
		})
	}
}

func newRecord(queue string, opts ...task.Option) *task.Record {
	opts = append([]task.Option{task.WithQueue(queue)}, opts...)
	return task.NewRecord("ping", task.Args{"message": "abc"}, "abc", opts...)
}

func mustEnqueue(t *testing.T, s store.Store, r *task.Record) {
	t.Helper()
	if err := s.Enqueue(context.Background(), r); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := newRecord("default")
	mustEnqueue(t, s, r)

	if err := s.Enqueue(ctx, r); !errors.Is(err, conduit.ErrTaskExists) {
		t.Errorf("duplicate Enqueue err = %v, want ErrTaskExists", err)
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID.String() != r.ID.String() || got.Name != "ping" || got.CorrelationID != "abc" {
		t.Errorf("Get = %+v", got)
	}
	if got.State != status.Received || got.Args.String("message") != "abc" {
		t.Errorf("Get state/args = %s/%v", got.State, got.Args)
	}

	if _, err := s.Get(ctx, id.NewTaskID()); !errors.Is(err, conduit.ErrTaskNotFound) {
		t.Errorf("missing Get err = %v, want ErrTaskNotFound", err)
	}
}

func testDequeueClaims(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := newRecord("default")
	mustEnqueue(t, s, r)

	claimed, err := s.Dequeue(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d records, want 1", len(claimed))
	}
	c := claimed[0]
	if c.State != status.Processing || c.Attempt != 1 {
		t.Errorf("claimed state/attempt = %s/%d, want PROCESSING/1", c.State, c.Attempt)
	}

	again, err := s.Dequeue(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second Dequeue claimed %d records, want 0", len(again))
	}

	stored, _ := s.Get(ctx, r.ID)
	if stored.State != status.Processing || stored.Attempt != 1 {
		t.Errorf("stored state/attempt = %s/%d", stored.State, stored.Attempt)
	}
}

func testDequeueFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	later := newRecord("default", task.WithDelay(time.Hour))
	other := newRecord("other")
	mustEnqueue(t, s, later)
	mustEnqueue(t, s, other)
	var ready []*task.Record
	base := time.Now().UTC().Add(-time.Minute)
	for i := range 3 {
		r := newRecord("default")
		r.RunAt = base.Add(time.Duration(i) * time.Second)
		mustEnqueue(t, s, r)
		ready = append(ready, r)
	}

	first, err := s.Dequeue(ctx, []string{"default"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("limit 2 claimed %d", len(first))
	}
	if first[0].ID.String() != ready[0].ID.String() {
		t.Errorf("claimed %s first, want oldest %s", first[0].ID, ready[0].ID)
	}
	rest, err := s.Dequeue(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].ID.String() != ready[2].ID.String() {
		t.Errorf("rest = %v, want only %s", rest, ready[2].ID)
	}

	fromOther, err := s.Dequeue(ctx, []string{"other"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(fromOther) != 1 || fromOther[0].ID.String() != other.ID.String() {
		t.Errorf("other queue claimed %v", fromOther)
	}
}

func testRequeue(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustEnqueue(t, s, newRecord("default"))
	claimed, _ := s.Dequeue(ctx, []string{"default"}, 1)
	r := claimed[0]

	r.LastError = "boom"
	if err := r.Transition(status.Retrying); err != nil {
		t.Fatal(err)
	}
	r.RunAt = time.Now().UTC().Add(-time.Millisecond)
	if err := s.Requeue(ctx, r); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	again, err := s.Dequeue(ctx, []string{"default"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 {
		t.Fatalf("requeued record not claimed")
	}
	if again[0].Attempt != 2 || again[0].LastError != "boom" {
		t.Errorf("attempt/last error = %d/%q", again[0].Attempt, again[0].LastError)
	}
	want := []status.Status{status.Received, status.Processing, status.Retrying, status.Processing}
	if len(again[0].History) != len(want) {
		t.Errorf("History = %v, want %v", again[0].History, want)
	}
}

func testUpdateKeepsCancel(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustEnqueue(t, s, newRecord("default"))
	claimed, _ := s.Dequeue(ctx, []string{"default"}, 1)
	r := claimed[0]

	if _, err := s.Cancel(ctx, r.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// r is the worker's copy and predates the cancel request.
	if err := s.Update(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, r.ID)
	if !got.CancelRequested {
		t.Error("Update cleared the cancel request")
	}

	if err := s.Update(ctx, newRecord("default")); !errors.Is(err, conduit.ErrTaskNotFound) {
		t.Errorf("Update missing err = %v, want ErrTaskNotFound", err)
	}
}

func testCancel(t *testing.T, s store.Store) {
	ctx := context.Background()

	queued := newRecord("default")
	mustEnqueue(t, s, queued)
	got, err := s.Cancel(ctx, queued.ID)
	if err != nil {
		t.Fatalf("Cancel queued: %v", err)
	}
	if got.State != status.Cancelled {
		t.Errorf("cancelled state = %s", got.State)
	}
	if claimed, _ := s.Dequeue(ctx, []string{"default"}, 10); len(claimed) != 0 {
		t.Errorf("cancelled record was claimed")
	}
	if _, err := s.Cancel(ctx, queued.ID); !errors.Is(err, conduit.ErrInvalidTransition) {
		t.Errorf("second Cancel err = %v, want ErrInvalidTransition", err)
	}

	running := newRecord("default")
	mustEnqueue(t, s, running)
	if _, err := s.Dequeue(ctx, []string{"default"}, 1); err != nil {
		t.Fatal(err)
	}
	got, err = s.Cancel(ctx, running.ID)
	if err != nil {
		t.Fatalf("Cancel running: %v", err)
	}
	if got.State != status.Processing || !got.CancelRequested {
		t.Errorf("running cancel = %s/%v, want PROCESSING with request", got.State, got.CancelRequested)
	}

	if _, err := s.Cancel(ctx, id.NewTaskID()); !errors.Is(err, conduit.ErrTaskNotFound) {
		t.Errorf("missing Cancel err = %v, want ErrTaskNotFound", err)
	}
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	for range 3 {
		mustEnqueue(t, s, newRecord("default"))
	}
	mustEnqueue(t, s, newRecord("other"))
	if _, err := s.Dequeue(ctx, []string{"other"}, 1); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(ctx, task.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("List all = %d, want 4", len(all))
	}
	queued, _ := s.List(ctx, task.ListOpts{State: status.Received})
	if len(queued) != 3 {
		t.Errorf("List RECEIVED = %d, want 3", len(queued))
	}
	running, _ := s.List(ctx, task.ListOpts{State: status.Processing, Queue: "other"})
	if len(running) != 1 {
		t.Errorf("List PROCESSING/other = %d, want 1", len(running))
	}
	limited, _ := s.List(ctx, task.ListOpts{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("List limit 2 = %d", len(limited))
	}
}

func testConcurrentDequeue(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 40
	for range n {
		mustEnqueue(t, s, newRecord("default"))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.Dequeue(ctx, []string{"default"}, 3)
				if err != nil {
					t.Errorf("Dequeue: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, r := range claimed {
					seen[r.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("claimed %d distinct records, want %d", len(seen), n)
	}
	for k, v := range seen {
		if v != 1 {
			t.Errorf("record %s claimed %d times", k, v)
		}
	}
}

// A record is either claimed by a worker or cancelled from the queue,
// never both.
func testCancelDuringDequeue(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 30
	records := make([]*task.Record, n)
	for i := range records {
		records[i] = newRecord("default")
		mustEnqueue(t, s, records[i])
	}

	var (
		mu        sync.Mutex
		claimed   = make(map[string]bool)
		cancelled = make(map[string]bool)
		wg        sync.WaitGroup
	)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := s.Dequeue(ctx, []string{"default"}, 2)
				if err != nil {
					t.Errorf("Dequeue: %v", err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, r := range got {
					claimed[r.ID.String()] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, r := range records {
			got, err := s.Cancel(ctx, r.ID)
			if err != nil {
				t.Errorf("Cancel %s: %v", r.ID, err)
				continue
			}
			if got.State == status.Cancelled {
				mu.Lock()
				cancelled[r.ID.String()] = true
				mu.Unlock()
			}
		}
	}()
	wg.Wait()

	for _, r := range records {
		k := r.ID.String()
		if claimed[k] && cancelled[k] {
			t.Errorf("record %s was both claimed and cancelled", k)
		}
		if !claimed[k] && !cancelled[k] {
			t.Errorf("record %s was neither claimed nor cancelled", k)
		}
		stored, err := s.Get(ctx, r.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		switch {
		case cancelled[k] && stored.State != status.Cancelled:
			t.Errorf("cancelled record %s stored as %s", k, stored.State)
		case claimed[k] && (stored.State != status.Processing || !stored.CancelRequested):
			t.Errorf("claimed record %s stored as %s/%v, want PROCESSING with request", k, stored.State, stored.CancelRequested)
		}
	}
}

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()
	svc := dlq.NewService(s, s)

	failed := newRecord("default", task.WithMaxAttempts(2))
	mustEnqueue(t, s, failed)
	failed.Attempt = 2
	if err := svc.Push(ctx, failed, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("ListDLQ = %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.TaskID.String() != failed.ID.String() || e.Error != "smtp timeout" || e.Attempts != 2 || e.CorrelationID != "abc" {
		t.Errorf("entry = %+v", e)
	}
	if n, _ := s.CountDLQ(ctx); n != 1 {
		t.Errorf("CountDLQ = %d, want 1", n)
	}

	replayed, err := svc.Replay(ctx, e.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.CorrelationID != "abc" || replayed.Attempt != 0 || replayed.State != status.Received {
		t.Errorf("replayed record = %+v", replayed)
	}
	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplayedAt == nil {
		t.Error("ReplayedAt not set")
	}

	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, conduit.ErrDLQNotFound) {
		t.Errorf("missing GetDLQ err = %v, want ErrDLQNotFound", err)
	}
}
