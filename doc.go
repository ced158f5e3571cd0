// Package conduit provides correlation tracking and asynchronous dispatch
// for request/response services that hand work off to background tasks
// and message topics.
//
// A correlation identifier is created at ingress (an HTTP request, or a
// message that arrives without one), carried through context.Context,
// and re-entered on every receiving side before user logic runs. Every
// log record emitted during that unit of work is tagged with the
// identifier, and no other concurrently running unit of work can see it.
//
// # Quick Start
//
//	eng, err := engine.New(ctx, conduit.DefaultConfig(),
//	    engine.WithLogger(logger),
//	)
//	engine.Register(eng, task.NewDefinition("ping", pingHandler))
//	router.Subscribe(eng.Router(), "in-topic", onPing)
//	_ = eng.Start(ctx)
//
//	taskID, err := eng.Dispatcher().Enqueue(ctx, "ping", nil, correlation.FromContext(ctx))
//
// # Architecture
//
// The subsystems are layered leaves first: correlation, status, envelope
// and logscope have no knowledge of brokers. task, dlq and the stores
// describe persisted work. worker executes it, dispatcher enqueues it,
// router moves envelopes between topics, and engine wires everything
// from a Config.
//
// Backing brokers are explicitly constructed and handed to the components
// that use them. When a broker is disabled or unreachable at startup the
// components keep an Unavailable state and fail open: enqueue and publish
// return ErrBrokerUnavailable immediately and the caller carries on.
package conduit
