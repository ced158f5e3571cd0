package engine_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/xraph/conduit/engine"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	for _, url := range []string{"memory://", "redis://" + mr.Addr() + "/0", "REDIS://" + mr.Addr()} {
		s, err := engine.OpenStore(ctx, url, nil)
		if err != nil {
			t.Fatalf("OpenStore(%q): %v", url, err)
		}
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping(%q): %v", url, err)
		}
		_ = s.Close()
	}

	for _, url := range []string{"", "localhost:6379", "amqp://host"} {
		if _, err := engine.OpenStore(ctx, url, nil); err == nil {
			t.Fatalf("OpenStore(%q): expected an error", url)
		}
	}
}

func TestOpenPubSub(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, url := range []string{"memory://", "redis://" + mr.Addr()} {
		ps, err := engine.OpenPubSub(url, nil)
		if err != nil {
			t.Fatalf("OpenPubSub(%q): %v", url, err)
		}
		_ = ps.Close()
	}
	if _, err := engine.OpenPubSub("postgres://host/db", nil); err == nil {
		t.Fatal("postgres is not a topic broker")
	}
}
