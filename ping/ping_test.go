package ping_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/engine"
	"github.com/xraph/conduit/envelope"
	"github.com/xraph/conduit/logscope"
	"github.com/xraph/conduit/ping"
)

func TestSubscriberRepliesWithPong(t *testing.T) {
	h := ping.Subscriber(slog.Default())
	req := envelope.New("xyz", &ping.Content{Message: "ping", Timestamp: "2024-03-19T10:00:01Z"})

	resp, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if resp.CorrelationID() != "xyz" {
		t.Fatalf("correlation id = %q", resp.CorrelationID())
	}
	if got := resp.Data(); got == nil || got.Message != ping.Pong || got.Timestamp != "2024-03-19T10:00:01Z" {
		t.Fatalf("reply = %+v", got)
	}
}

func TestSubscriberAcceptsEmptyPayload(t *testing.T) {
	resp, err := ping.Subscriber(slog.Default())(context.Background(), envelope.New[ping.Content]("xyz", nil))
	if err != nil || resp.Data().Message != ping.Pong {
		t.Fatalf("resp = %+v, err = %v", resp.Data(), err)
	}
}

func TestTaskLogsInsideScope(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logscope.NewHandler(slog.NewJSONHandler(&buf, nil)))

	err := logscope.Run(context.Background(), "abc", func(ctx context.Context) error {
		return ping.Task(logger)(ctx, nil)
	})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines:\n%s", len(lines), buf.String())
	}
	for _, line := range lines {
		if !strings.Contains(line, `"correlation_id":"abc"`) {
			t.Fatalf("untagged line: %s", line)
		}
	}
}

func TestRegister(t *testing.T) {
	eng, err := engine.New(context.Background(), conduit.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ping.Register(eng); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := eng.Registry().Get(ping.TaskName); !ok {
		t.Fatal("ping task not registered")
	}
	if got := eng.Router().Topics(); len(got) != 1 || got[0] != ping.Topic {
		t.Fatalf("topics = %v", got)
	}
	if err := ping.Register(eng); !errors.Is(err, conduit.ErrDuplicateTopic) {
		t.Fatalf("second Register err = %v, want ErrDuplicateTopic", err)
	}
}
