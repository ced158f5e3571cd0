// Package redis implements broker.PubSub with Redis PUBLISH and SUBSCRIBE.
// Delivery is at most once: a subscriber that is not connected when a
// message is published never sees it.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conduit/broker"
)

var _ broker.PubSub = (*Broker)(nil)

// DefaultBufferSize is the default per-subscription channel size.
const DefaultBufferSize = 256

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithBufferSize sets the per-subscription channel size.
func WithBufferSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// Broker publishes and subscribes through a go-redis client, which pools
// connections and is safe for concurrent use.
type Broker struct {
	client     goredis.UniversalClient
	owned      bool
	logger     *slog.Logger
	bufferSize int
}

// New wraps client. The caller keeps ownership of the client.
func New(client goredis.UniversalClient, opts ...Option) *Broker {
	b := &Broker{client: client, logger: slog.Default(), bufferSize: DefaultBufferSize}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Open connects to the redis:// or rediss:// URL. Close closes the client.
func Open(url string, opts ...Option) (*Broker, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: parse url: %w", err)
	}
	b := New(goredis.NewClient(o), opts...)
	b.owned = true
	return b, nil
}

// Ping checks the connection.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish sends payload on topic.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("conduit/redis: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (b *Broker) Subscribe(ctx context.Context, topic string) (broker.Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("conduit/redis: subscribe %s: %w", topic, err)
	}

	s := &subscription{
		ps:   ps,
		out:  make(chan broker.Message, b.bufferSize),
		done: make(chan struct{}),
	}
	go s.forward(ps.Channel(goredis.WithChannelSize(b.bufferSize)))
	b.logger.Debug("redis subscription opened", slog.String("topic", topic))
	return s, nil
}

// Close closes the client when the broker opened it.
func (b *Broker) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

type subscription struct {
	ps   *goredis.PubSub
	out  chan broker.Message
	done chan struct{}
	once sync.Once
}

func (s *subscription) forward(in <-chan *goredis.Message) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- broker.Message{Topic: m.Channel, Payload: []byte(m.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscription) Messages() <-chan broker.Message { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
