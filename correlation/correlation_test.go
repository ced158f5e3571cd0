package correlation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/xraph/conduit/correlation"
)

func TestNew_Unique(t *testing.T) {
	seen := make(map[correlation.ID]struct{})
	for range 1000 {
		id := correlation.New()
		if id.IsNone() {
			t.Fatal("New returned None")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestFromContext_NoneOutsideUnitOfWork(t *testing.T) {
	if got := correlation.FromContext(context.Background()); got != correlation.None {
		t.Errorf("FromContext = %q, want None", got)
	}
}

func TestWithID(t *testing.T) {
	ctx := correlation.WithID(context.Background(), "abc")
	if got := correlation.FromContext(ctx); got != "abc" {
		t.Errorf("FromContext = %q, want %q", got, "abc")
	}
}

func TestBind_ReleaseRestoresPrevious(t *testing.T) {
	outer := correlation.WithID(context.Background(), "outer")
	inner, release := correlation.Bind(outer, "inner")

	if got := correlation.FromContext(inner); got != "inner" {
		t.Fatalf("bound id = %q, want inner", got)
	}

	release()
	release() // idempotent

	if got := correlation.FromContext(inner); got != "outer" {
		t.Errorf("after release = %q, want outer", got)
	}
	if got := correlation.FromContext(outer); got != "outer" {
		t.Errorf("outer ctx = %q, want outer", got)
	}
}

func TestBind_ReleaseToNone(t *testing.T) {
	ctx, release := correlation.Bind(context.Background(), "x")
	release()
	if got := correlation.FromContext(ctx); got != correlation.None {
		t.Errorf("after release = %q, want None", got)
	}
}

func TestBind_NestedReleaseOutOfOrder(t *testing.T) {
	a, releaseA := correlation.Bind(context.Background(), "a")
	b, releaseB := correlation.Bind(a, "b")

	releaseA()
	if got := correlation.FromContext(b); got != "b" {
		t.Errorf("b still active, got %q", got)
	}
	releaseB()
	if got := correlation.FromContext(b); got != correlation.None {
		t.Errorf("both released, got %q", got)
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := correlation.Ensure(context.Background())
	if id.IsNone() {
		t.Fatal("Ensure returned None")
	}
	if got := correlation.FromContext(ctx); got != id {
		t.Errorf("FromContext = %q, want %q", got, id)
	}

	ctx2, id2 := correlation.Ensure(ctx)
	if id2 != id || ctx2 != ctx {
		t.Error("Ensure should reuse the active id")
	}
}

func TestConcurrentBindingsAreIsolated(t *testing.T) {
	root := context.Background()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			want := correlation.New()
			ctx, release := correlation.Bind(root, want)
			defer release()
			for range 100 {
				if got := correlation.FromContext(ctx); got != want {
					t.Errorf("got %q, want %q", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}
