// Package broker defines the pub/sub primitive topics are routed over and
// the availability of a backing broker as a value decided once at startup.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conduit"
)

// Message is one payload delivered on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription delivers messages for one topic until closed.
type Subscription interface {
	// Messages is closed after Close or when the broker shuts down.
	Messages() <-chan Message
	Close() error
}

// PubSub publishes and subscribes raw payloads. Implementations are safe
// for concurrent use.
type PubSub interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Pinger checks connectivity with a backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Availability records whether a broker can be used. It is decided once
// and handed to the components that depend on the broker; nothing
// re-probes it.
type Availability struct {
	ok     bool
	reason string
}

// Available marks a usable broker.
func Available() Availability { return Availability{ok: true} }

// Unavailable marks an unusable broker.
func Unavailable(reason string) Availability { return Availability{reason: reason} }

// Unconfigured marks a broker that was never configured.
func Unconfigured(what string) Availability {
	return Unavailable(what + " not configured")
}

// Probe pings p once, bounded by timeout.
func Probe(ctx context.Context, p Pinger, timeout time.Duration) Availability {
	if p == nil {
		return Unavailable("no backend")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := p.Ping(ctx); err != nil {
		return Unavailable(err.Error())
	}
	return Available()
}

// OK reports whether the broker is usable.
func (a Availability) OK() bool { return a.ok }

// Reason explains why the broker is unusable.
func (a Availability) Reason() string { return a.reason }

// Err returns nil for an available broker and an error wrapping
// conduit.ErrBrokerUnavailable otherwise.
func (a Availability) Err() error {
	if a.ok {
		return nil
	}
	return fmt.Errorf("%w: %s", conduit.ErrBrokerUnavailable, a.reason)
}

func (a Availability) String() string {
	if a.ok {
		return "available"
	}
	return "unavailable: " + a.reason
}
