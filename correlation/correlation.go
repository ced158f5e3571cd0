// Package correlation carries the identifier of a logical unit of work
// through context.Context.
//
// An identifier is created at ingress with New, bound to a context, and
// read back anywhere down the call chain with FromContext. Bindings live
// in the context tree, so concurrently running units of work never share
// or overwrite each other's identifier.
package correlation

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// HeaderName is the HTTP header used to carry the identifier across
// service boundaries.
const HeaderName = "X-Correlation-ID"

// ID is an opaque correlation identifier.
type ID string

// None is returned when no unit of work is active.
const None ID = ""

// New returns a fresh identifier for a new unit of work.
func New() ID {
	return ID(uuid.NewString())
}

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// IsNone reports whether id is the None sentinel.
func (id ID) IsNone() bool { return id == None }

type ctxKey struct{}

// binding is one link in the chain of identifiers bound to a context.
// A released binding is skipped by lookups, which then see whatever was
// bound underneath it.
type binding struct {
	id       ID
	parent   *binding
	released atomic.Bool
}

func bindingFrom(ctx context.Context) *binding {
	b, _ := ctx.Value(ctxKey{}).(*binding)
	return b
}

// WithID returns a context bound to id for its whole lifetime.
func WithID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, &binding{id: id, parent: bindingFrom(ctx)})
}

// Bind returns a context bound to id and a release func. After release,
// lookups through the returned context observe the binding that was active
// before Bind was called. Release is safe to call more than once.
func Bind(ctx context.Context, id ID) (context.Context, func()) {
	b := &binding{id: id, parent: bindingFrom(ctx)}
	return context.WithValue(ctx, ctxKey{}, b), func() { b.released.Store(true) }
}

// FromContext returns the identifier active for ctx, or None.
func FromContext(ctx context.Context) ID {
	if ctx == nil {
		return None
	}
	for b := bindingFrom(ctx); b != nil; b = b.parent {
		if !b.released.Load() {
			return b.id
		}
	}
	return None
}

// Ensure returns ctx and its active identifier, binding a new one first
// when none is active.
func Ensure(ctx context.Context) (context.Context, ID) {
	if id := FromContext(ctx); id != None {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}

// OrNew returns id, or a fresh identifier when id is None.
func OrNew(id ID) ID {
	if id == None {
		return New()
	}
	return id
}
