package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/conduit/broker"
	brokermemory "github.com/xraph/conduit/broker/memory"
	brokerredis "github.com/xraph/conduit/broker/redis"
	"github.com/xraph/conduit/store"
	"github.com/xraph/conduit/store/memory"
	"github.com/xraph/conduit/store/postgres"
	storeredis "github.com/xraph/conduit/store/redis"
)

func scheme(url string) string {
	s, _, ok := strings.Cut(url, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(s)
}

// OpenStore returns the task store for url: memory://, redis://,
// rediss://, postgres:// or postgresql://. Opening does not connect;
// probe the store before use. A nil logger means slog.Default.
func OpenStore(ctx context.Context, url string, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch scheme(url) {
	case "memory":
		return memory.New(), nil
	case "redis", "rediss":
		s, err := storeredis.Open(url, storeredis.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := postgres.New(ctx, url, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("engine: unsupported task store url scheme %q", scheme(url))
	}
}

// OpenPubSub returns the topic broker for url: memory://, redis:// or
// rediss://.
func OpenPubSub(url string, logger *slog.Logger) (broker.PubSub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch scheme(url) {
	case "memory":
		return brokermemory.New(brokermemory.WithLogger(logger)), nil
	case "redis", "rediss":
		b, err := brokerredis.Open(url, brokerredis.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("engine: unsupported topic broker url scheme %q", scheme(url))
	}
}
