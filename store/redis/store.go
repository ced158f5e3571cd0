// Package redis implements store.Store on Redis. Records are hashes, each
// queue is a sorted set scored by RunAt, and a worker owns a record once
// its ZREM from the queue succeeds.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/task"
)

var (
	_ task.Store = (*Store)(nil)
	_ dlq.Store  = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a Redis-backed store.Store.
type Store struct {
	client goredis.UniversalClient
	owned  bool
	logger *slog.Logger
}

// New wraps client. The caller keeps ownership of the client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects to the redis:// or rediss:// URL. Close closes the client.
func Open(url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: parse url: %w", err)
	}
	s := New(goredis.NewClient(o), opts...)
	s.owned = true
	return s, nil
}

// Client returns the underlying client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op; Redis is schemaless.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
