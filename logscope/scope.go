package logscope

import (
	"context"
	"sync"

	"github.com/xraph/conduit/correlation"
)

// AttrKey is the attribute name carrying the correlation identifier.
const AttrKey = "correlation_id"

// Scope is an active tagging scope. Exit is idempotent.
type Scope struct {
	id      correlation.ID
	release func()
	once    sync.Once
}

// Enter opens a scope for id. Records logged with the returned context are
// tagged with id until Exit is called, after which they are tagged with
// whatever was active before Enter (or nothing).
func Enter(ctx context.Context, id correlation.ID) (context.Context, *Scope) {
	ctx, release := correlation.Bind(ctx, id)
	return ctx, &Scope{id: id, release: release}
}

// ID returns the identifier the scope was entered with.
func (s *Scope) ID() correlation.ID { return s.id }

// Exit closes the scope.
func (s *Scope) Exit() {
	s.once.Do(s.release)
}
