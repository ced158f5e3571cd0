package logscope_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/logscope"
)

// syncBuffer guards a bytes.Buffer for concurrent handlers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func newLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	h := logscope.NewHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return slog.New(h), buf
}

func TestScopeTagsRecords(t *testing.T) {
	logger, buf := newLogger()

	ctx, scope := logscope.Enter(context.Background(), "abc")
	logger.InfoContext(ctx, "inside")
	scope.Exit()
	logger.InfoContext(ctx, "after exit")
	logger.Info("no context")

	recs := buf.records(t)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0][logscope.AttrKey] != "abc" {
		t.Errorf("inside record = %v, want correlation_id abc", recs[0])
	}
	for _, rec := range recs[1:] {
		if _, ok := rec[logscope.AttrKey]; ok {
			t.Errorf("record %v should carry no correlation_id", rec)
		}
	}
}

func TestExitRestoresOuterScope(t *testing.T) {
	logger, buf := newLogger()

	outer, outerScope := logscope.Enter(context.Background(), "outer")
	inner, innerScope := logscope.Enter(outer, "inner")
	logger.InfoContext(inner, "nested")
	innerScope.Exit()
	innerScope.Exit()
	logger.InfoContext(inner, "restored")
	outerScope.Exit()
	logger.InfoContext(inner, "cleared")

	recs := buf.records(t)
	want := []any{"inner", "outer", nil}
	for i, w := range want {
		if got := recs[i][logscope.AttrKey]; got != w {
			t.Errorf("record %d correlation_id = %v, want %v", i, got, w)
		}
	}
}

func TestConcurrentScopesDoNotCrossTalk(t *testing.T) {
	logger, buf := newLogger()

	const units, lines = 40, 25
	waiters := make([]logscope.Waiter, 0, units)
	for i := range units {
		id := correlation.ID(fmt.Sprintf("unit-%d", i))
		waiters = append(waiters, logscope.Go(context.Background(), id, func(ctx context.Context) error {
			for j := range lines {
				logger.InfoContext(ctx, "step", slog.String("owner", id.String()), slog.Int("line", j))
			}
			return nil
		}))
	}
	for _, w := range waiters {
		if err := w.Wait(); err != nil {
			t.Fatal(err)
		}
	}

	recs := buf.records(t)
	if len(recs) != units*lines {
		t.Fatalf("got %d records, want %d", len(recs), units*lines)
	}
	for _, rec := range recs {
		if rec[logscope.AttrKey] != rec["owner"] {
			t.Fatalf("record tagged %v but emitted by %v", rec[logscope.AttrKey], rec["owner"])
		}
	}
}

func TestRunReturnsErrorUntouched(t *testing.T) {
	sentinel := errors.New("boom")
	err := logscope.Run(context.Background(), "e", func(context.Context) error { return sentinel })
	if err != sentinel {
		t.Errorf("err = %v, want sentinel", err)
	}
}

func TestRunPanicExitsScopeThenPropagates(t *testing.T) {
	var captured context.Context
	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Errorf("recovered %v, want kaboom", r)
			}
		}()
		_ = logscope.Run(context.Background(), "p", func(ctx context.Context) error {
			captured = ctx
			panic("kaboom")
		})
	}()
	if id := correlation.FromContext(captured); !id.IsNone() {
		t.Errorf("scope still active after panic: %q", id)
	}
}

func TestGoPanicRaisedFromWait(t *testing.T) {
	w := logscope.Go(context.Background(), "gp", func(context.Context) error {
		panic("async")
	})
	defer func() {
		if r := recover(); r != "async" {
			t.Errorf("recovered %v, want async", r)
		}
	}()
	_ = w.Wait()
	t.Fatal("Wait should have panicked")
}

func TestGoCancellationExitsScope(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan context.Context, 1)

	w := logscope.Go(ctx, "c", func(ctx context.Context) error {
		started <- ctx
		<-ctx.Done()
		return ctx.Err()
	})
	inner := <-started
	if correlation.FromContext(inner) != "c" {
		t.Fatalf("inner id = %q, want c", correlation.FromContext(inner))
	}
	cancel()

	if err := w.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if id := correlation.FromContext(inner); !id.IsNone() {
		t.Errorf("scope still active after cancellation: %q", id)
	}
}

func TestExecutorsShareContract(t *testing.T) {
	for name, exec := range map[string]logscope.Executor{
		"blocking":   logscope.Blocking{},
		"suspending": logscope.Suspending{},
	} {
		t.Run(name, func(t *testing.T) {
			var seen correlation.ID
			err := exec.Execute(context.Background(), "shared", func(ctx context.Context) error {
				seen = correlation.FromContext(ctx)
				return nil
			}).Wait()
			if err != nil {
				t.Fatal(err)
			}
			if seen != "shared" {
				t.Errorf("seen = %q, want shared", seen)
			}
		})
	}
}

func TestHandlerKeepsTaggingAfterWithAttrs(t *testing.T) {
	logger, buf := newLogger()
	logger = logger.With(slog.String("component", "test")).WithGroup("g")

	ctx, scope := logscope.Enter(context.Background(), "w")
	defer scope.Exit()
	logger.InfoContext(ctx, "hello")

	recs := buf.records(t)
	if recs[0]["component"] != "test" {
		t.Errorf("record = %v, want component attr", recs[0])
	}
	group, _ := recs[0]["g"].(map[string]any)
	if group[logscope.AttrKey] != "w" {
		t.Errorf("record = %v, want correlation id w", recs[0])
	}
}

func TestSetupTextFormat(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := logscope.Setup("debug", "text", &buf)
	ctx, scope := logscope.Enter(context.Background(), "txt")
	logger.DebugContext(ctx, "line")
	scope.Exit()

	if !strings.Contains(buf.String(), "correlation_id=txt") {
		t.Errorf("output = %q, want correlation_id=txt", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn,
		"error": slog.LevelError, "bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := logscope.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
