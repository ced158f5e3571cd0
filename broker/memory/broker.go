// Package memory is an in-process broker.PubSub. Each subscription owns a
// buffered channel; a publish never blocks and a full buffer drops the
// message for that subscriber.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/broker"
	"github.com/xraph/conduit/id"
)

var _ broker.PubSub = (*Broker)(nil)

// DefaultBufferSize is the default per-subscription buffer.
const DefaultBufferSize = 256

// Option configures a Broker.
type Option func(*Broker)

// WithBufferSize sets the per-subscription buffer size.
func WithBufferSize(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithLogger sets the logger used to report dropped messages.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Broker fans payloads out to the subscriptions of a topic.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscription // topic → subscription id → subscription
	closed bool

	bufferSize int
	logger     *slog.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// New creates an empty Broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		topics:     make(map[string]map[string]*subscription),
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Stats reports broker counters.
type Stats struct {
	Topics        int   `json:"topics"`
	Subscriptions int   `json:"subscriptions"`
	Published     int64 `json:"published"`
	Dropped       int64 `json:"dropped"`
}

// Stats returns a snapshot of the broker counters.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.topics {
		n += len(subs)
	}
	return Stats{
		Topics:        len(b.topics),
		Subscriptions: n,
		Published:     b.published.Load(),
		Dropped:       b.dropped.Load(),
	}
}

// Ping fails once the broker is closed.
func (b *Broker) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	return nil
}

var errClosed = fmt.Errorf("%w: memory broker closed", conduit.ErrBrokerUnavailable)

// Publish delivers payload to every current subscription of topic.
func (b *Broker) Publish(_ context.Context, topic string, payload []byte) error {
	msg := broker.Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	// Sends happen under the read lock so a subscription cannot close its
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	for _, s := range b.topics[topic] {
		select {
		case s.ch <- msg:
			b.published.Add(1)
		default:
			b.dropped.Add(1)
			b.logger.Warn("memory broker dropped message",
				slog.String("topic", topic),
				slog.String("subscription_id", s.id.String()),
			)
		}
	}
	return nil
}

// Subscribe registers a new subscription on topic.
func (b *Broker) Subscribe(_ context.Context, topic string) (broker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}
	s := &subscription{
		id:     id.NewSubscriberID(),
		topic:  topic,
		ch:     make(chan broker.Message, b.bufferSize),
		broker: b,
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]*subscription)
		b.topics[topic] = subs
	}
	subs[s.id.String()] = s
	return s, nil
}

// Close closes every subscription. Later calls fail with
// conduit.ErrBrokerUnavailable.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for _, s := range subs {
			s.closeLocked()
		}
		delete(b.topics, topic)
	}
	return nil
}

func (b *Broker) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[s.topic]; ok {
		delete(subs, s.id.String())
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		}
	}
	s.closeLocked()
}

type subscription struct {
	id     id.SubscriberID
	topic  string
	ch     chan broker.Message
	broker *Broker
	closed bool // guarded by broker.mu
}

func (s *subscription) Messages() <-chan broker.Message { return s.ch }

func (s *subscription) Close() error {
	s.broker.remove(s)
	return nil
}

func (s *subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
