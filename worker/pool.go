package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

// Pool runs a fixed number of goroutines that poll the store and execute
// claimed records. The number of goroutines bounds how many tasks run at
// once.
type Pool struct {
	store        task.Store
	executor     *Executor
	concurrency  int
	queues       []string
	pollInterval time.Duration
	limiter      *rate.Limiter
	workerID     id.WorkerID
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithQueues sets the queues the pool polls.
func WithQueues(queues ...string) PoolOption {
	return func(p *Pool) {
		if len(queues) > 0 {
			p.queues = queues
		}
	}
}

// WithPollInterval sets how long an idle worker waits before polling again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithRateLimit caps task starts per second across the pool. Zero or a
// negative value disables the limit.
func WithRateLimit(perSecond float64) PoolOption {
	return func(p *Pool) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewPool creates a pool. It does not start polling until Start.
func NewPool(store task.Store, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID identifies this pool in logs.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Concurrency returns the number of worker goroutines.
func (p *Pool) Concurrency() int { return p.concurrency }

// Active returns the number of tasks currently executing.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Start launches the worker goroutines and returns. Starting a running
// pool is a no-op; a stopped pool cannot be restarted.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.New("worker: pool already stopped")
	}
	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)
	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	return nil
}

// Stop stops polling and waits for in-flight tasks. When ctx ends first the
// in-flight tasks have their contexts cancelled and Stop waits for them to
// return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopped = true
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks",
			slog.Int("active", p.Active()),
		)
		p.cancelActive()
		<-done
	}
	return nil
}

// CancelTask cancels taskID through the store. A queued task becomes
// CANCELLED without running. A task this pool is running gets its context
// cancelled; the handler may still finish its current step, in which case
// the outcome it reaches stands.
func (p *Pool) CancelTask(ctx context.Context, taskID id.TaskID) (*task.Record, error) {
	rec, err := p.store.Cancel(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if rec.State == status.Processing {
		p.activeMu.Lock()
		cancel, ok := p.active[taskID.String()]
		p.activeMu.Unlock()
		if ok {
			cancel()
		}
	}
	return rec, nil
}

func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	loopCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		select {
		case <-p.stopCh:
			stop()
		case <-loopCtx.Done():
		}
	}()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(loopCtx); err != nil {
				return
			}
		}

		recs, err := p.store.Dequeue(loopCtx, p.queues, 1)
		if err != nil {
			if loopCtx.Err() != nil {
				return
			}
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(recs) == 0 {
			p.sleep()
			continue
		}
		p.run(recs[0])
	}
}

func (p *Pool) run(rec *task.Record) {
	// Task contexts outlive Stop until its deadline.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := rec.ID.String()
	p.activeMu.Lock()
	p.active[key] = cancel
	p.activeMu.Unlock()
	defer func() {
		p.activeMu.Lock()
		delete(p.active, key)
		p.activeMu.Unlock()
	}()

	if err := p.executor.Execute(ctx, rec); err != nil {
		p.logger.Debug("task attempt did not complete",
			slog.String("task_id", key),
			slog.String("task_name", rec.Name),
			slog.String("worker_id", p.workerID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep() {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, cancel := range p.active {
		p.logger.Warn("cancelling active task", slog.String("task_id", taskID))
		cancel()
	}
}
