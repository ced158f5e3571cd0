// Package store defines the aggregate persistence interface that every
// backend implements: the task store and the dead-letter store together.
//
// Backends:
//
//   - store/memory: in-process, for development and tests
//   - store/redis: hashes plus sorted-set queues
//   - store/postgres: pgx pool, SKIP LOCKED claims, goose migrations
package store

import (
	"context"

	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/task"
)

// Store is the aggregate persistence interface.
type Store interface {
	task.Store
	dlq.Store

	// Migrate prepares the backend's schema. It is a no-op where there is
	// no schema.
	Migrate(ctx context.Context) error
}
