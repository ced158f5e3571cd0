package task

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/conduit/correlation"
)

// HandlerFunc executes a task given its arguments.
type HandlerFunc func(ctx context.Context, args Args) error

// Definition is a typed task handler. T is decoded from the task's Args.
type Definition[T any] struct {
	Name    string
	Handler func(ctx context.Context, args T) error
	Opts    []Option
}

// NewDefinition creates a typed definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, args T) error, opts ...Option) *Definition[T] {
	return &Definition[T]{Name: name, Handler: handler, Opts: opts}
}

// Entry is a registered handler and the options its tasks default to.
type Entry struct {
	Name    string
	Handler HandlerFunc
	Options Options
}

// Registry maps task names to handlers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register installs handler under name, replacing any previous handler.
func (r *Registry) Register(name string, handler HandlerFunc, opts ...Option) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{Name: name, Handler: handler, Options: o}
}

// RegisterDefinition installs a typed definition. Arguments that do not
// decode into T fail the attempt like any other handler error.
//
// This is a function and not a method because methods cannot have type
// parameters.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Name, func(ctx context.Context, args Args) error {
		var v T
		if err := args.Decode(&v); err != nil {
			return fmt.Errorf("task %q: %w", def.Name, err)
		}
		return def.Handler(ctx, v)
	}, def.Opts...)
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRecord builds a record for name using the registered options as the
// base, then applies opts. Unregistered names use DefaultOptions.
func (r *Registry) NewRecord(name string, args Args, cid correlation.ID, opts ...Option) *Record {
	o := DefaultOptions()
	if e, ok := r.Get(name); ok {
		o = e.Options
	}
	for _, opt := range opts {
		opt(&o)
	}
	return newRecord(name, args, cid, o)
}
