// Package engine builds the dispatch core from configuration. It opens the
// task store and topic broker, decides their availability once, and wires
// the handler registry, extensions, worker pool, dispatcher and router
// around them. The engine owns what it opened and releases it on Stop.
//
//	eng, err := engine.New(ctx, cfg, engine.WithLogger(logger))
//	eng.Register("ping", pingHandler, task.WithMaxAttempts(3))
//	router.Subscribe(eng.Router(), "in-topic", handleIn)
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/backoff"
	"github.com/xraph/conduit/broker"
	"github.com/xraph/conduit/dispatcher"
	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/envelope"
	"github.com/xraph/conduit/ext"
	mw "github.com/xraph/conduit/middleware"
	"github.com/xraph/conduit/observability"
	"github.com/xraph/conduit/router"
	"github.com/xraph/conduit/store"
	"github.com/xraph/conduit/task"
	"github.com/xraph/conduit/worker"
)

const instrumentationName = "github.com/xraph/conduit"

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pending = append(eng.pending, e) }
}

// WithMiddleware appends m after the built-in task middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff replaces the configured retry strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithStore uses s for tasks instead of opening Tasks.URL. The caller
// keeps ownership of s.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithPubSub uses ps for topics instead of opening Topics.URL. The caller
// keeps ownership of ps.
func WithPubSub(ps broker.PubSub) Option {
	return func(eng *Engine) { eng.pubsub = ps }
}

// WithTracerProvider sets the provider for the tracing middleware instead
// of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the provider for the metrics middleware and the
// observability extension instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Engine holds the constructed core.
type Engine struct {
	cfg    conduit.Config
	logger *slog.Logger

	extensions *ext.Registry
	pending    []ext.Extension
	registry   *task.Registry
	mws        []mw.Middleware
	bo         backoff.Strategy

	store       store.Store
	ownsStore   bool
	pubsub      broker.PubSub
	ownsPubSub  bool
	taskAvail   broker.Availability
	topicAvail  broker.Availability
	dlqService  *dlq.Service
	pool        *worker.Pool
	dispatcher  *dispatcher.Dispatcher
	router      *router.Router
	routerStop  context.CancelFunc
	routerDone  chan error
	stopOnce    sync.Once
	startedPool bool

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// New builds an Engine. An unreachable or unconfigured backend does not
// fail New: the matching component is built Unavailable and fails open. A
// malformed URL or unknown codec or backoff does fail New.
func New(ctx context.Context, cfg conduit.Config, opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: task.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	eng.extensions = ext.NewRegistry(eng.logger)

	if eng.bo == nil {
		bo, err := backoff.Parse(cfg.Tasks.Backoff, cfg.Tasks.BackoffInitial, cfg.Tasks.BackoffMax)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		eng.bo = bo
	}
	codec, err := envelope.GetCodec(cfg.Topics.Codec)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if err := eng.openTasks(ctx); err != nil {
		return nil, err
	}
	if err := eng.openTopics(ctx); err != nil {
		eng.closeBackends()
		return nil, err
	}

	eng.registerExtensions()
	eng.buildWorkers()

	eng.dispatcher = dispatcher.New(eng.taskStore(), eng.registry,
		dispatcher.WithLogger(eng.logger),
		dispatcher.WithExtensions(eng.extensions),
		dispatcher.WithAvailability(eng.taskAvail),
		dispatcher.WithEnqueueTimeout(cfg.Tasks.EnqueueTimeout),
		dispatcher.WithCanceller(eng.pool),
	)
	eng.router = router.New(eng.pubsub,
		router.WithLogger(eng.logger),
		router.WithCodec(codec),
		router.WithExtensions(eng.extensions),
		router.WithAvailability(eng.topicAvail),
		router.WithPublishTimeout(cfg.Topics.PublishTimeout),
	)

	eng.logger.InfoContext(ctx, "conduit engine built",
		slog.String("tasks", eng.taskAvail.String()),
		slog.String("topics", eng.topicAvail.String()),
	)
	return eng, nil
}

func (eng *Engine) openTasks(ctx context.Context) error {
	if eng.store == nil {
		if !eng.cfg.Tasks.Enabled || eng.cfg.Tasks.URL == "" {
			eng.taskAvail = broker.Unconfigured("task broker")
			return nil
		}
		s, err := OpenStore(ctx, eng.cfg.Tasks.URL, eng.logger)
		if err != nil {
			return err
		}
		eng.store = s
		eng.ownsStore = true
	}

	eng.taskAvail = broker.Probe(ctx, eng.store, eng.cfg.Tasks.ProbeTimeout)
	if !eng.taskAvail.OK() {
		return nil
	}
	if err := eng.store.Migrate(ctx); err != nil {
		eng.taskAvail = broker.Unavailable("migrate: " + err.Error())
	}
	return nil
}

func (eng *Engine) openTopics(ctx context.Context) error {
	if eng.pubsub == nil {
		if !eng.cfg.Topics.Enabled || eng.cfg.Topics.URL == "" {
			eng.topicAvail = broker.Unconfigured("topic broker")
			return nil
		}
		ps, err := OpenPubSub(eng.cfg.Topics.URL, eng.logger)
		if err != nil {
			return err
		}
		eng.pubsub = ps
		eng.ownsPubSub = true
	}

	if p, ok := eng.pubsub.(broker.Pinger); ok {
		eng.topicAvail = broker.Probe(ctx, p, eng.cfg.Tasks.ProbeTimeout)
	} else {
		eng.topicAvail = broker.Available()
	}
	return nil
}

func (eng *Engine) registerExtensions() {
	var obs *observability.MetricsExtension
	if eng.meterProvider != nil {
		obs = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obs = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obs)
	for _, e := range eng.pending {
		eng.extensions.Register(e)
	}
}

func (eng *Engine) buildWorkers() {
	var tracing, metrics mw.Middleware
	if eng.tracerProvider != nil {
		tracing = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracing = mw.Tracing()
	}
	if eng.meterProvider != nil {
		metrics = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metrics = mw.Metrics()
	}

	// recover → tracing → metrics → logging → timeout → user middleware
	mws := append([]mw.Middleware{
		mw.Recover(eng.logger),
		tracing,
		metrics,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}, eng.mws...)

	ts := eng.taskStore()
	if ts != nil {
		eng.dlqService = dlq.NewService(eng.store, eng.store)
	}
	executor := worker.NewExecutor(eng.registry, eng.extensions, ts, eng.dlqService, eng.bo, eng.logger, mws...)
	eng.pool = worker.NewPool(ts, executor, eng.logger,
		worker.WithConcurrency(eng.cfg.Tasks.Concurrency),
		worker.WithQueues(eng.cfg.Tasks.Queues...),
		worker.WithPollInterval(eng.cfg.Tasks.PollInterval),
		worker.WithRateLimit(eng.cfg.Tasks.RateLimit),
	)
}

// taskStore returns nil unless the store is usable, so nothing touches a
// store that failed its probe.
func (eng *Engine) taskStore() task.Store {
	if eng.store == nil || !eng.taskAvail.OK() {
		return nil
	}
	return eng.store
}

// Register installs a task handler. Tasks.MaxAttempts is the attempt
// bound unless opts set one.
func (eng *Engine) Register(name string, handler task.HandlerFunc, opts ...task.Option) {
	eng.registry.Register(name, handler, eng.taskDefaults(opts)...)
}

// Register installs a typed task definition the same way Engine.Register
// does.
func Register[T any](eng *Engine, def *task.Definition[T]) {
	d := *def
	d.Opts = eng.taskDefaults(def.Opts)
	task.RegisterDefinition(eng.registry, &d)
}

func (eng *Engine) taskDefaults(opts []task.Option) []task.Option {
	return append([]task.Option{task.WithMaxAttempts(eng.cfg.Tasks.MaxAttempts)}, opts...)
}

// Start starts the worker pool when the task broker is available and the
// router when the topic broker is available and has routes. It returns
// immediately.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.taskAvail.OK() {
		if err := eng.pool.Start(ctx); err != nil {
			return fmt.Errorf("engine: start workers: %w", err)
		}
		eng.startedPool = true
	}
	if eng.topicAvail.OK() && len(eng.router.Topics()) > 0 {
		rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		eng.routerStop = cancel
		eng.routerDone = make(chan error, 1)
		go func() { eng.routerDone <- eng.router.Run(rctx) }()
	}
	return nil
}

// Stop stops the router and the workers, bounded by ctx and the configured
// shutdown timeout, then releases the backends the engine opened. It is
// safe to call more than once.
func (eng *Engine) Stop(ctx context.Context) error {
	var errs []error
	eng.stopOnce.Do(func() {
		if eng.cfg.Tasks.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, eng.cfg.Tasks.ShutdownTimeout)
			defer cancel()
		}

		if eng.routerStop != nil {
			eng.routerStop()
			select {
			case err := <-eng.routerDone:
				if err != nil {
					errs = append(errs, fmt.Errorf("engine: router: %w", err))
				}
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("engine: router: %w", ctx.Err()))
			}
		}
		if eng.startedPool {
			if err := eng.pool.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("engine: workers: %w", err))
			}
		}
		eng.extensions.EmitShutdown(ctx)
		errs = append(errs, eng.closeBackends()...)
	})
	return errors.Join(errs...)
}

func (eng *Engine) closeBackends() []error {
	var errs []error
	if eng.ownsPubSub && eng.pubsub != nil {
		if err := eng.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine: close topic broker: %w", err))
		}
	}
	if eng.ownsStore && eng.store != nil {
		if err := eng.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine: close task store: %w", err))
		}
	}
	return errs
}

// Config returns the configuration the engine was built from.
func (eng *Engine) Config() conduit.Config { return eng.cfg }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task handler registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Dispatcher returns the task dispatcher.
func (eng *Engine) Dispatcher() *dispatcher.Dispatcher { return eng.dispatcher }

// Router returns the topic router.
func (eng *Engine) Router() *router.Router { return eng.router }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// DLQ returns the dead-letter service, or nil when the task broker is
// unavailable.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// TaskAvailability reports whether tasks can be enqueued.
func (eng *Engine) TaskAvailability() broker.Availability { return eng.taskAvail }

// TopicAvailability reports whether messages can be published.
func (eng *Engine) TopicAvailability() broker.Availability { return eng.topicAvail }
