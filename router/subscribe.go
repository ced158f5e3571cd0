package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conduit/envelope"
	"github.com/xraph/conduit/status"
)

// SubscribeOption configures one route.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	replyTopic string
	noReply    bool
}

// WithReplyTopic publishes responses to topic instead of "<topic>.reply".
func WithReplyTopic(topic string) SubscribeOption {
	return func(o *subscribeOptions) { o.replyTopic = topic }
}

// WithoutReply discards responses. Handler errors are then logged and the
// message is left unprocessed.
func WithoutReply() SubscribeOption {
	return func(o *subscribeOptions) { o.noReply = true }
}

// Subscribe binds handler to topic. A topic takes one handler; a second
// Subscribe fails with conduit.ErrDuplicateTopic. Routes must be added
// before Run.
//
// Inbound envelopes must be RECEIVED. One that arrives already resolved
// (COMPLETED, FAILED or CANCELLED) is never handed to the
// handler: it is logged as "message already resolved" and reported to
// OnMessageRejected hooks, and no reply is published.
//
// This is a function and not a method because methods cannot have type
// parameters.
func Subscribe[T, R any](r *Router, topic string, handler Handler[T, R], opts ...SubscribeOption) error {
	o := subscribeOptions{replyTopic: topic + ReplySuffix}
	for _, opt := range opts {
		opt(&o)
	}
	if o.noReply {
		o.replyTopic = ""
	}
	rt := &route{topic: topic, replyTopic: o.replyTopic}
	rt.handle = func(ctx context.Context, payload []byte) {
		handleMessage(ctx, r, rt, handler, payload)
	}
	return r.add(rt)
}

// Publish sends env to topic. It fails fast with
// conduit.ErrBrokerUnavailable when the broker is unavailable and
// otherwise waits at most the publish timeout.
func Publish[T any](ctx context.Context, r *Router, topic string, env *envelope.Envelope[T]) error {
	if err := r.checkAvailable(ctx); err != nil {
		return err
	}
	payload, err := envelope.Encode(r.codec, env)
	if err != nil {
		return fmt.Errorf("router: publish %s: %w", topic, err)
	}
	if err := r.publish(ctx, topic, payload); err != nil {
		return err
	}
	r.logger.DebugContext(ctx, "message published",
		slog.String("topic", topic),
		slog.String("status", env.Status().String()),
	)
	return nil
}

// PublishData wraps data in a RECEIVED envelope carrying the correlation
// id bound to ctx, generating one when ctx has none, and publishes it.
func PublishData[T any](ctx context.Context, r *Router, topic string, data T) error {
	return Publish(ctx, r, topic, envelope.FromContext(ctx, &data))
}

func handleMessage[T, R any](ctx context.Context, r *Router, rt *route, handler Handler[T, R], payload []byte) {
	req, err := envelope.Decode[T](r.codec, payload)
	if err != nil {
		r.reject(ctx, rt.topic, err)
		return
	}
	if st := req.Status(); st.IsTerminal() {
		r.logger.WarnContext(ctx, "message already resolved",
			slog.String("topic", rt.topic),
			slog.String("status", st.String()),
		)
		r.extensions.EmitMessageRejected(ctx, rt.topic, status.Validate(st, status.Processing))
		return
	}
	if err := req.Transition(status.Processing); err != nil {
		r.reject(ctx, rt.topic, err)
		return
	}

	_ = r.executor.Execute(ctx, req.CorrelationID(), func(ctx context.Context) error {
		start := time.Now()
		resp, herr := invoke(ctx, handler, req)
		outcome := respond(ctx, r, rt, req, resp, herr)
		r.extensions.EmitMessageHandled(ctx, rt.topic, req.CorrelationID(), outcome, time.Since(start))
		return nil
	}).Wait()
}

// invoke turns a handler panic into an error.
func invoke[T, R any](ctx context.Context, handler Handler[T, R], req *envelope.Envelope[T]) (resp *envelope.Envelope[R], err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return handler(ctx, req)
}

// respond moves req to its outcome and publishes the reply, which always
// carries the request's correlation id.
func respond[T, R any](ctx context.Context, r *Router, rt *route, req *envelope.Envelope[T], resp *envelope.Envelope[R], herr error) status.Status {
	var reply *envelope.Envelope[R]
	if herr != nil {
		_ = req.Transition(status.Failed)
		if rt.replyTopic == "" {
			r.logger.ErrorContext(ctx, "message handler failed, message unprocessed",
				slog.String("topic", rt.topic),
				slog.String("error", herr.Error()),
			)
			return status.Failed
		}
		r.logger.ErrorContext(ctx, "message handler failed",
			slog.String("topic", rt.topic),
			slog.String("error", herr.Error()),
		)
		reply = envelope.Restore[R](req.CorrelationID(), nil, status.Failed)
	} else {
		outcome := status.Completed
		var data *R
		if resp != nil {
			data = resp.Data()
			if st := resp.Status(); st != status.Received && st != status.Processing {
				outcome = st
			}
		}
		// Every outcome left here is an edge out of PROCESSING.
		_ = req.Transition(outcome)
		reply = envelope.Restore(req.CorrelationID(), data, outcome)
	}

	outcome := req.Status()
	if rt.replyTopic == "" {
		return outcome
	}
	if err := Publish(ctx, r, rt.replyTopic, reply); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish reply",
			slog.String("topic", rt.replyTopic),
			slog.String("error", err.Error()),
		)
	}
	return outcome
}

func (r *Router) reject(ctx context.Context, topic string, err error) {
	r.logger.WarnContext(ctx, "message rejected",
		slog.String("topic", topic),
		slog.String("error", err.Error()),
	)
	r.extensions.EmitMessageRejected(ctx, topic, err)
}
