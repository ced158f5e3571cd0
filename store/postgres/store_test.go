package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/conduit/store"
	"github.com/xraph/conduit/store/postgres"
	"github.com/xraph/conduit/store/storetest"
)

// CONDUIT_TEST_POSTGRES_URL points at a disposable database; the suite
// truncates its tables between subtests.
func testURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("CONDUIT_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("CONDUIT_TEST_POSTGRES_URL not set")
	}
	return url
}

func TestConformance(t *testing.T) {
	storetest.Run(t, factory(testURL(t)))
}

// factory opens a migrated, empty store on url for each subtest.
func factory(url string) storetest.Factory {
	return func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := postgres.New(ctx, url)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if _, err := s.Pool().Exec(ctx, `TRUNCATE conduit_tasks, conduit_dlq`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	url := testURL(t)
	ctx := context.Background()
	s, err := postgres.New(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	for range 2 {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
}
