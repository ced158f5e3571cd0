// Package ping provides the built-in liveness workload: a "ping" task and
// an "in-topic" subscriber that answers with a pong. The HTTP ping
// endpoint triggers both.
package ping

import (
	"context"
	"log/slog"

	"github.com/xraph/conduit/engine"
	"github.com/xraph/conduit/envelope"
	"github.com/xraph/conduit/router"
	"github.com/xraph/conduit/task"
)

const (
	// TaskName is the name the ping task is registered under.
	TaskName = "ping"

	// Topic is the topic the ping subscriber listens on.
	Topic = "in-topic"

	// Pong is the reply message.
	Pong = "pong from subscriber"
)

// Content is the payload carried on Topic and its reply topic.
type Content struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Task returns the ping task handler.
func Task(logger *slog.Logger) task.HandlerFunc {
	return func(ctx context.Context, _ task.Args) error {
		logger.InfoContext(ctx, "ping task started")
		logger.InfoContext(ctx, "ping task completed", slog.String("status", "success"))
		return nil
	}
}

// Subscriber returns the Topic handler. It replies with Pong under the
// request's correlation id and the request's timestamp.
func Subscriber(logger *slog.Logger) router.Handler[Content, Content] {
	return func(ctx context.Context, req *envelope.Envelope[Content]) (*envelope.Envelope[Content], error) {
		logger.InfoContext(ctx, "message received", slog.String("topic", Topic))
		reply := &Content{Message: Pong}
		if in := req.Data(); in != nil {
			reply.Timestamp = in.Timestamp
		}
		return envelope.Reply(req, reply), nil
	}
}

// Register installs the ping task and subscriber on eng.
func Register(eng *engine.Engine) error {
	logger := eng.Logger()
	eng.Register(TaskName, Task(logger))
	return router.Subscribe(eng.Router(), Topic, Subscriber(logger))
}
