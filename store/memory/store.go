// Package memory is an in-process implementation of store.Store. It is
// safe for concurrent use and intended for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

var (
	_ task.Store = (*Store)(nil)
	_ dlq.Store  = (*Store)(nil)
)

// Store keeps records and entries in maps guarded by one mutex. Records
// are copied on the way in and on the way out.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]*task.Record
	entries map[string]*dlq.Entry
	closed  bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:   make(map[string]*task.Record),
		entries: make(map[string]*dlq.Entry),
	}
}

// Migrate is a no-op.
func (m *Store) Migrate(context.Context) error { return nil }

// Ping fails only after Close.
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return conduit.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed; later calls fail with ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Task store
// ──────────────────────────────────────────────────

// Enqueue stores a copy of r.
func (m *Store) Enqueue(_ context.Context, r *task.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return conduit.ErrStoreClosed
	}
	key := r.ID.String()
	if _, ok := m.tasks[key]; ok {
		return conduit.ErrTaskExists
	}
	m.tasks[key] = r.Clone()
	return nil
}

// Dequeue claims ready records ordered by RunAt.
func (m *Store) Dequeue(_ context.Context, queues []string, limit int) ([]*task.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, conduit.ErrStoreClosed
	}

	wanted := make(map[string]bool, len(queues))
	for _, q := range queues {
		wanted[q] = true
	}

	now := time.Now().UTC()
	var ready []*task.Record
	for _, r := range m.tasks {
		if !r.Ready(now) {
			continue
		}
		if len(wanted) > 0 && !wanted[r.Queue] {
			continue
		}
		ready = append(ready, r)
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].RunAt.Equal(ready[j].RunAt) {
			return ready[i].RunAt.Before(ready[j].RunAt)
		}
		return ready[i].ID.String() < ready[j].ID.String()
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]*task.Record, 0, len(ready))
	for _, r := range ready {
		if err := r.Claim(); err != nil {
			return nil, err
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// Get returns a copy of the record.
func (m *Store) Get(_ context.Context, taskID id.TaskID) (*task.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, conduit.ErrTaskNotFound
	}
	return r.Clone(), nil
}

// Update replaces the stored record, keeping a pending cancel request.
func (m *Store) Update(_ context.Context, r *task.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.ID.String()
	cur, ok := m.tasks[key]
	if !ok {
		return conduit.ErrTaskNotFound
	}
	c := r.Clone()
	c.CancelRequested = c.CancelRequested || cur.CancelRequested
	m.tasks[key] = c
	return nil
}

// Requeue stores the RETRYING record; Dequeue picks it up once RunAt passes.
func (m *Store) Requeue(ctx context.Context, r *task.Record) error {
	if r.State != status.Retrying {
		return status.Validate(r.State, status.Retrying)
	}
	return m.Update(ctx, r)
}

// Cancel applies task.ApplyCancel under the store lock.
func (m *Store) Cancel(_ context.Context, taskID id.TaskID) (*task.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, conduit.ErrTaskNotFound
	}
	if err := task.ApplyCancel(r); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// List returns matching records ordered by CreatedAt.
func (m *Store) List(_ context.Context, opts task.ListOpts) ([]*task.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*task.Record
	for _, r := range m.tasks {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Queue != "" && r.Queue != opts.Queue {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// DLQ store
// ──────────────────────────────────────────────────

// PushDLQ stores a copy of entry.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return conduit.ErrStoreClosed
	}
	m.entries[entry.ID.String()] = entry.Clone()
	return nil
}

// ListDLQ returns entries ordered by FailedAt.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*dlq.Entry
	for _, e := range m.entries {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// GetDLQ returns a copy of the entry.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, conduit.ErrDLQNotFound
	}
	return e.Clone(), nil
}

// ReplayDLQ stamps ReplayedAt.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID.String()]
	if !ok {
		return conduit.ErrDLQNotFound
	}
	e.ReplayedAt = &at
	return nil
}

// CountDLQ returns the number of entries.
func (m *Store) CountDLQ(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}
