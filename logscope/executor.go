package logscope

import (
	"context"

	"github.com/xraph/conduit/correlation"
)

// Func is a unit of work run inside a scope.
type Func func(ctx context.Context) error

// Waiter reports the outcome of a unit of work started by an Executor.
type Waiter interface {
	// Wait blocks until the unit of work has finished and returns its
	// error. A panic raised by the unit of work is raised again from Wait.
	Wait() error
}

// Executor runs a unit of work inside a scope bound to id.
type Executor interface {
	Execute(ctx context.Context, id correlation.ID, fn Func) Waiter
}

// Blocking runs units of work on the calling goroutine. Execute returns
// once fn has returned; a panic in fn propagates out of Execute after the
// scope has been exited.
type Blocking struct{}

// Execute implements Executor.
func (Blocking) Execute(ctx context.Context, id correlation.ID, fn Func) Waiter {
	ctx, scope := Enter(ctx, id)
	defer scope.Exit()
	return done{err: fn(ctx)}
}

// Suspending runs each unit of work on its own goroutine. The scope stays
// attached to that unit of work however many times it blocks.
type Suspending struct{}

// Execute implements Executor.
func (Suspending) Execute(ctx context.Context, id correlation.ID, fn Func) Waiter {
	w := &future{done: make(chan struct{})}
	go func() {
		defer close(w.done)
		defer func() {
			if r := recover(); r != nil {
				w.panicked = true
				w.panicVal = r
			}
		}()
		ctx, scope := Enter(ctx, id)
		defer scope.Exit()
		w.err = fn(ctx)
	}()
	return w
}

// Run executes fn inline inside a scope bound to id.
func Run(ctx context.Context, id correlation.ID, fn Func) error {
	return Blocking{}.Execute(ctx, id, fn).Wait()
}

// Go executes fn on a new goroutine inside a scope bound to id.
func Go(ctx context.Context, id correlation.ID, fn Func) Waiter {
	return Suspending{}.Execute(ctx, id, fn)
}

type done struct{ err error }

func (d done) Wait() error { return d.err }

type future struct {
	done     chan struct{}
	err      error
	panicked bool
	panicVal any
}

func (f *future) Wait() error {
	<-f.done
	if f.panicked {
		panic(f.panicVal)
	}
	return f.err
}
