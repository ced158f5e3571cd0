// Package envelope defines the typed message wrapper exchanged over topics
// and the codecs that put it on the wire.
//
// An Envelope carries a correlation identifier fixed at construction, an
// optional payload, and a lifecycle status that only moves along the edges
// of the status table:
//
//	env := envelope.FromContext(ctx, &Ping{Message: "ping"})
//	data, err := envelope.Encode(envelope.JSONCodec{}, env)
//
// On the wire an envelope is the JSON object
//
//	{"correlation_id": "<string>", "data": <T | null>, "status": "<enum>"}
package envelope

import (
	"context"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/status"
)

// Envelope wraps a payload of type T with its correlation identifier and
// lifecycle status. The zero value is not usable; construct one with New,
// FromContext, Reply or Restore.
//
// An Envelope belongs to one unit of work and is not safe for concurrent
// mutation.
type Envelope[T any] struct {
	correlationID correlation.ID
	data          *T
	history       []status.Status
}

// New creates an envelope at Received. A None id is replaced by a fresh one.
func New[T any](id correlation.ID, data *T) *Envelope[T] {
	return &Envelope[T]{
		correlationID: correlation.OrNew(id),
		data:          data,
		history:       []status.Status{status.Received},
	}
}

// FromContext creates an envelope using the correlation identifier active
// in ctx, or a fresh one when none is active.
func FromContext[T any](ctx context.Context, data *T) *Envelope[T] {
	return New(correlation.FromContext(ctx), data)
}

// Reply creates a response envelope at Received that reuses the request's
// correlation identifier.
func Reply[R, T any](req *Envelope[T], data *R) *Envelope[R] {
	return New(req.correlationID, data)
}

// Restore rebuilds an envelope exactly as it was serialized. It is meant for
// codecs; status is taken verbatim because it describes the sender's view.
func Restore[T any](id correlation.ID, data *T, s status.Status) *Envelope[T] {
	if s == "" {
		s = status.Received
	}
	return &Envelope[T]{
		correlationID: correlation.OrNew(id),
		data:          data,
		history:       []status.Status{s},
	}
}

// CorrelationID returns the envelope's correlation identifier.
func (e *Envelope[T]) CorrelationID() correlation.ID { return e.correlationID }

// Data returns the payload, or nil when the envelope carries none.
func (e *Envelope[T]) Data() *T { return e.data }

// HasData reports whether a payload is present.
func (e *Envelope[T]) HasData() bool { return e.data != nil }

// Status returns the current status.
func (e *Envelope[T]) Status() status.Status { return e.history[len(e.history)-1] }

// History returns every status the envelope has held, oldest first.
func (e *Envelope[T]) History() []status.Status {
	out := make([]status.Status, len(e.history))
	copy(out, e.history)
	return out
}

// Transition moves the envelope to next. Disallowed transitions return an
// error wrapping conduit.ErrInvalidTransition and leave the status as is.
func (e *Envelope[T]) Transition(next status.Status) error {
	if err := status.Validate(e.Status(), next); err != nil {
		return err
	}
	e.history = append(e.history, next)
	return nil
}

// Resolve moves the envelope to final, passing through Processing first
// when it is still at Received or Retrying.
func (e *Envelope[T]) Resolve(final status.Status) error {
	if cur := e.Status(); (cur == status.Received || cur == status.Retrying) && final != status.Cancelled {
		if err := e.Transition(status.Processing); err != nil {
			return err
		}
	}
	return e.Transition(final)
}
