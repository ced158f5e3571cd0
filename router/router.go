// Package router binds topics to typed envelope handlers. Each inbound
// message is decoded, handled inside a log scope bound to its correlation
// id, and answered on the route's reply topic with an envelope carrying
// the same id. The router never retries; redelivery is up to the broker.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/broker"
	"github.com/xraph/conduit/envelope"
	"github.com/xraph/conduit/ext"
	"github.com/xraph/conduit/logscope"
)

const (
	// ReplySuffix is appended to a topic to form its default reply topic.
	ReplySuffix = ".reply"

	// DefaultPublishTimeout bounds a publish when no timeout is configured.
	DefaultPublishTimeout = 5 * time.Second

	// DefaultMaxInFlight caps concurrent handler invocations per router.
	DefaultMaxInFlight = 64
)

// Handler handles one request envelope and returns the response. The
// response status is the outcome; a response still RECEIVED or PROCESSING
// is reported as COMPLETED. A nil response with a nil error completes the
// request with an empty reply.
type Handler[T, R any] func(ctx context.Context, req *envelope.Envelope[T]) (*envelope.Envelope[R], error)

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithCodec sets the wire codec. The default is JSON.
func WithCodec(c envelope.Codec) Option {
	return func(r *Router) {
		if c != nil {
			r.codec = c
		}
	}
}

// WithExtensions sets the registry notified of handled and rejected
// messages.
func WithExtensions(reg *ext.Registry) Option {
	return func(r *Router) { r.extensions = reg }
}

// WithAvailability sets the broker availability decided at startup.
func WithAvailability(a broker.Availability) Option {
	return func(r *Router) { r.availability = a }
}

// WithPublishTimeout bounds each publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.publishTimeout = d
		}
	}
}

// WithMaxInFlight caps concurrent handler invocations.
func WithMaxInFlight(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxInFlight = n
		}
	}
}

// WithExecutor sets how handler invocations enter their log scope.
func WithExecutor(e logscope.Executor) Option {
	return func(r *Router) {
		if e != nil {
			r.executor = e
		}
	}
}

// Router routes messages between a broker.PubSub and typed handlers.
type Router struct {
	pubsub         broker.PubSub
	availability   broker.Availability
	codec          envelope.Codec
	extensions     *ext.Registry
	executor       logscope.Executor
	publishTimeout time.Duration
	maxInFlight    int
	logger         *slog.Logger

	mu      sync.Mutex
	routes  map[string]*route
	running bool

	unavailableOnce sync.Once
}

type route struct {
	topic      string
	replyTopic string
	handle     func(ctx context.Context, payload []byte)
}

// New creates a Router over ps. A nil ps makes the router permanently
// unavailable. Without WithAvailability the broker is assumed available.
func New(ps broker.PubSub, opts ...Option) *Router {
	r := &Router{
		pubsub:         ps,
		availability:   broker.Available(),
		codec:          envelope.JSONCodec{},
		executor:       logscope.Blocking{},
		publishTimeout: DefaultPublishTimeout,
		maxInFlight:    DefaultMaxInFlight,
		logger:         slog.Default(),
		routes:         make(map[string]*route),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.extensions == nil {
		r.extensions = ext.NewRegistry(r.logger)
	}
	if ps == nil && r.availability.OK() {
		r.availability = broker.Unconfigured("topic broker")
	}
	return r
}

// Availability returns the availability the router was built with.
func (r *Router) Availability() broker.Availability { return r.availability }

// Codec returns the wire codec.
func (r *Router) Codec() envelope.Codec { return r.codec }

// Topics returns the subscribed topics in sorted order.
func (r *Router) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ReplyTopic returns the reply topic of a subscribed topic, or "" when the
// topic has no reply or no route.
func (r *Router) ReplyTopic(topic string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.routes[topic]; ok {
		return rt.replyTopic
	}
	return ""
}

func (r *Router) add(rt *route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("router: cannot subscribe while running")
	}
	if _, ok := r.routes[rt.topic]; ok {
		return fmt.Errorf("%w: %s", conduit.ErrDuplicateTopic, rt.topic)
	}
	r.routes[rt.topic] = rt
	return nil
}

// Run subscribes every route and handles messages until ctx ends, then
// waits for in-flight handlers. It returns nil on cancellation and an error
// if a subscription fails or ends on its own.
func (r *Router) Run(ctx context.Context) error {
	if err := r.checkAvailable(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("router: already running")
	}
	r.running = true
	routes := make([]*route, 0, len(r.routes))
	for _, rt := range r.routes {
		routes = append(routes, rt)
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	subs := make([]broker.Subscription, 0, len(routes))
	defer func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}()
	for _, rt := range routes {
		s, err := r.pubsub.Subscribe(ctx, rt.topic)
		if err != nil {
			return fmt.Errorf("router: subscribe %s: %w", rt.topic, err)
		}
		subs = append(subs, s)
	}

	r.logger.InfoContext(ctx, "router running", slog.Any("topics", r.Topics()))

	g, gctx := errgroup.WithContext(ctx)
	handlers := &errgroup.Group{}
	handlers.SetLimit(r.maxInFlight)
	for i, rt := range routes {
		sub := subs[i]
		g.Go(func() error { return r.consume(gctx, rt, sub, handlers) })
	}
	err := g.Wait()
	_ = handlers.Wait()

	if ctx.Err() != nil {
		r.logger.Info("router stopped")
		return nil
	}
	return err
}

func (r *Router) consume(ctx context.Context, rt *route, sub broker.Subscription, handlers *errgroup.Group) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("router: subscription to %s closed", rt.topic)
			}
			// Handlers outlive ctx so replies of in-flight messages still
			// go out during shutdown.
			hctx := context.WithoutCancel(ctx)
			handlers.Go(func() error {
				rt.handle(hctx, msg.Payload)
				return nil
			})
		}
	}
}

func (r *Router) publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.checkAvailable(ctx); err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	if err := r.pubsub.Publish(pctx, topic, payload); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: publish timed out after %s", conduit.ErrBrokerUnavailable, r.publishTimeout)
		}
		return fmt.Errorf("router: publish %s: %w", topic, err)
	}
	return nil
}

// checkAvailable logs the first rejection only.
func (r *Router) checkAvailable(ctx context.Context) error {
	err := r.availability.Err()
	if err == nil {
		return nil
	}
	r.unavailableOnce.Do(func() {
		r.logger.ErrorContext(ctx, "topic broker unavailable, messages are skipped",
			slog.String("reason", r.availability.Reason()),
		)
	})
	return err
}
